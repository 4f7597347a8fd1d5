package chain

import (
	"fmt"
)

// TODO(aroman) Replace calls with an explicit error type
func panicf(msgfmt string, args ...any) {
	panic(fmt.Errorf(msgfmt, args...))
}

// ordinalize turns a number into an ordinal string: 1st, 2nd, 3rd, 4th...
func ordinalize(number int) string {
	n := number
	if n < 0 {
		n = -n
	}
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", number, suffix)
}
