// Package pagemap translates virtual addresses of the current process to
// physical frame addresses by consulting the kernel's per-process pagemap
// export, /proc/self/pagemap.
package pagemap

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"rowhammer/internal/memtypes"
)

const pagemapPath = "/proc/self/pagemap"

// VirtToPhys resolves the virtual address v of the current process to its
// backing PhysAddr. It opens /proc/self/pagemap fresh on every call, seeks
// to the entry for v's page and decodes the 8-byte little-endian PTE.
//
// All engine pages must be locked resident (see engine.Configure) before
// this is called: a page that is not present, or that has been swapped
// out, represents a broken invariant the caller cannot recover from, so
// VirtToPhys panics rather than returning an error in those two cases.
func VirtToPhys(v uintptr) memtypes.PhysAddr {
	f, err := os.Open(pagemapPath)
	if err != nil {
		panic(fmt.Sprintf("pagemap: could not open %s: %v", pagemapPath, err))
	}
	defer f.Close()

	offset := int64((v >> memtypes.PageShift) * 8)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		panic(fmt.Sprintf("pagemap: failed to seek: %v", err))
	}

	var buf [8]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		panic(fmt.Sprintf("pagemap: failed to read physical address: %v", err))
	}
	entry := binary.LittleEndian.Uint64(buf[:])

	if entry&memtypes.PresentBitmask == 0 {
		panic("pagemap: virtual to physical translation failed: page not present")
	}
	if entry&memtypes.SwapBitmask != 0 {
		panic("pagemap: virtual to physical translation failed: page is swapped (pages should be locked in memory or swap disabled)")
	}

	pageOffset := uint64(v) & uint64(memtypes.PageOffsetMask)
	phys := ((entry & ((1 << 55) - 1)) << memtypes.PageShift) | pageOffset
	return memtypes.PhysAddr(phys)
}
