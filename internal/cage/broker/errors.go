package broker

import (
	"errors"
	"strconv"
)

// ErrTimeout is returned by WaitForResult when no terminal result appears
// before the caller's timeout elapses.
var ErrTimeout = errors.New("broker: wait for result timed out")

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
