//go:build amd64

package hammer

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// jitBackend generates and executes a fresh hand-assembled routine for
// every Hammer call: one routine per aggressor pattern rather than a
// single general-purpose interpreter, trading recompilation cost for an
// unrolled access sequence with no branch in the inner body beyond the
// loop counter.
type jitBackend struct{}

func (j *jitBackend) Hammer(rows [][]uintptr, fillerCount int, count uint64) (time.Duration, error) {
	if err := validateRows(rows); err != nil {
		return 0, err
	}
	code := encodeHammerLoop(rows, fillerCount, count)
	maybeDisassemble(code)

	page, err := unix.Mmap(-1, 0, pageRoundUp(len(code)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("hammer: allocating JIT page: %w", err)
	}
	copy(page, code)

	if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(page)
		return 0, fmt.Errorf("hammer: making JIT page executable: %w", err)
	}

	fn := uintptr(unsafe.Pointer(&page[0]))
	start := time.Now()
	callJIT(fn)
	elapsed := time.Since(start)

	return elapsed, unix.Munmap(page)
}

func pageRoundUp(n int) int {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}
