package chain

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type req = *bytes.Buffer
type resp = string

func say(s string) Middleware[req, resp] {
	return func(next Link[req, resp]) Link[req, resp] {
		return func(ctx context.Context, h Handler[req, resp], r req) (resp, error) {
			r.WriteString(s + ":")
			out, err := next(ctx, h, r)
			r.WriteString("/" + s + ":")
			return out, err
		}
	}
}

func echo(ctx context.Context, r req) (resp, error) {
	r.WriteString("handler:")
	return "done", nil
}

func TestComposeOrder(t *testing.T) {
	var buf bytes.Buffer
	h := Apply(say("a"), say("b"), say("c"))(echo)
	out, err := h(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, "a:b:c:handler:/c:/b:/a:", buf.String())
}

func TestComposeNothingIsIdentity(t *testing.T) {
	var buf bytes.Buffer
	h := Apply[req, resp]()(echo)
	out, err := h(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, "handler:", buf.String())
}

func TestComposeSingleReturnsSameMiddleware(t *testing.T) {
	var buf bytes.Buffer
	h := Apply(say("only"))(echo)
	_, err := h(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, "only:handler:/only:", buf.String())
}

func TestLinkCanReplaceHandler(t *testing.T) {
	replace := func(next Link[req, resp]) Link[req, resp] {
		return func(ctx context.Context, h Handler[req, resp], r req) (resp, error) {
			return next(ctx, func(ctx context.Context, r req) (resp, error) {
				return "replaced", nil
			}, r)
		}
	}
	var buf bytes.Buffer
	out, err := Apply(say("a"), replace, say("b"))(echo)(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, "replaced", out)
	assert.Equal(t, "a:b:/b:/a:", buf.String())
}

func TestErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	fail := func(ctx context.Context, r req) (resp, error) { return "", boom }
	var buf bytes.Buffer
	_, err := Apply(say("a"))(fail)(context.Background(), &buf)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "a:/a:", buf.String())
}

func TestChainIsImmutable(t *testing.T) {
	base := New(say("base"))
	left := base.With(say("left"))
	right := base.With(say("right"))
	assert.Equal(t, 1, base.Len())

	var l, r bytes.Buffer
	_, _ = left.Then(echo)(context.Background(), &l)
	_, _ = right.Then(echo)(context.Background(), &r)
	assert.Equal(t, "base:left:handler:/left:/base:", l.String())
	assert.Equal(t, "base:right:handler:/right:/base:", r.String())
}

func TestNilMiddlewarePanicsAtSetup(t *testing.T) {
	assert.PanicsWithError(t, "2nd arg of Compose(...) is nil", func() {
		Compose[req, resp](say("a"), nil)
	})
	assert.Panics(t, func() { New[req, resp]().With(nil) })
	assert.Panics(t, func() { Apply[req, resp]()(nil) })
}

func TestRecover(t *testing.T) {
	panics := func(ctx context.Context, r req) (resp, error) { panic("oops") }
	var buf bytes.Buffer
	out, err := Recover(Apply(say("a"))(panics))(context.Background(), &buf)
	assert.Equal(t, "", out)

	var pe PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "oops", pe.Val)
	assert.True(t, strings.Contains(err.Error(), "Panic executing handler: oops"), err.Error())
	for _, line := range pe.FilteredStack() {
		assert.False(t, strings.HasPrefix(line, "github.com/augustoroman/relay/chain."), line)
	}
}

func TestRecoverUnwrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	panics := func(ctx context.Context, r req) (resp, error) { panic(boom) }
	_, err := Recover(Handler[req, resp](panics))(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, boom)
}

func TestOrdinalize(t *testing.T) {
	for n, want := range map[int]string{
		1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 11: "11th", 12: "12th",
		13: "13th", 21: "21st", 102: "102nd", 111: "111th",
	} {
		assert.Equal(t, want, ordinalize(n))
	}
}
