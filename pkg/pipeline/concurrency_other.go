//go:build !unix

package pipeline

import "runtime"

// osConcurrencyCap falls back to a CPU-count heuristic on platforms
// without queryable descriptor limits.
func osConcurrencyCap() int {
	return runtime.NumCPU() * 4
}
