//go:build unix

package pipeline

import (
	"math"
	"syscall"
)

// osConcurrencyCap returns 75% of the file-descriptor soft limit, the
// resource every in-flight file pipeline consumes. Returns 0 (no cap) when
// the limit is unqueryable or unbounded.
func osConcurrencyCap() int {
	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		return 0
	}
	if rl.Cur == 0 || rl.Cur > math.MaxInt32 {
		return 0
	}
	c := int(rl.Cur) * 3 / 4
	if c < 1 {
		return 1
	}
	return c
}
