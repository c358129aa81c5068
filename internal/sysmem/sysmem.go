// Package sysmem wraps the handful of Linux memory-management syscalls
// the placement engine needs beyond what golang.org/x/sys/unix exposes
// directly: fixed-destination mremap (not wrapped on every architecture by
// x/sys/unix) and a thin, typed layer over Mmap/Munmap/Mlockall for the
// rest. Errors here are taxonomised as environment errors and are fatal — there is no meaningful recovery from a failed mapping
// operation partway through the placement pipeline.
package sysmem

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapAnonPage creates a new private, anonymous page with the given
// protection flags and returns its virtual address.
func MapAnonPage(prot int) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(pageSize), prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("sysmem: anonymous mmap failed: %w", err)
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

// UnmapPage releases the single-page mapping starting at va.
func UnmapPage(va uintptr) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(va)), pageSize)
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("sysmem: munmap failed: %w", err)
	}
	return nil
}

// MapFilePage creates a read+execute, file-backed mapping of exactly one
// page from f at fileOffset.
func MapFilePage(f *os.File, fileOffset int64, prot int) (uintptr, error) {
	b, err := unix.Mmap(int(f.Fd()), fileOffset, int(pageSize), prot, unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("sysmem: file-backed mmap at offset %#x failed: %w", fileOffset, err)
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

// Mremap moves the single-page mapping at oldVA to newVA, which must
// already be an unmapped address (the caller is responsible for vacating
// it first — see internal/elfseg). It uses MREMAP_FIXED | MREMAP_MAYMOVE
// so the kernel never silently picks a different destination.
func Mremap(oldVA, newVA uintptr) error {
	const (
		mremapMaymove = 1
		mremapFixed   = 2
	)
	newAddr, _, errno := unix.Syscall6(
		unix.SYS_MREMAP,
		oldVA, pageSize, pageSize,
		mremapMaymove|mremapFixed,
		newVA, 0,
	)
	if errno != 0 {
		return fmt.Errorf("sysmem: mremap %#x -> %#x failed: %w", oldVA, newVA, errno)
	}
	if newAddr != uintptr(newVA) {
		return fmt.Errorf("sysmem: mremap landed at %#x, wanted %#x", newAddr, newVA)
	}
	return nil
}

// MlockAll locks all current and future pages of this process resident,
// preventing swap. This is a precondition for pagemap.VirtToPhys to
// return stable results.
func MlockAll() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("sysmem: mlockall failed: %w", err)
	}
	return nil
}

// DropPageCache asks the kernel to sync and drop the page cache, reducing
// memory pressure after the frame-acquisition sweep.
func DropPageCache() error {
	unix.Sync()
	f, err := os.OpenFile("/proc/sys/vm/drop_caches", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("sysmem: could not open drop_caches: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString("1"); err != nil {
		return fmt.Errorf("sysmem: could not write drop_caches: %w", err)
	}
	return nil
}

const pageSize = 4096
