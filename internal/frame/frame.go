// Package frame implements physical-frame acquisition: allocating
// anonymous pages under memory pressure until the kernel hands the
// process every physical frame a target set names, and the ownership map
// (FrameMap) that keeps those pages resident for the engine's lifetime.
package frame

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"rowhammer/internal/memtypes"
	"rowhammer/internal/pagemap"
	"rowhammer/internal/sysmem"
)

// OwnedFrame is a single anonymous or file-backed page mapping that keeps
// its physical frame resident. It is exclusively owned by whichever
// FrameMap entry holds it; releasing that entry unmaps the page.
type OwnedFrame struct {
	Frame memtypes.FrameAddr
	VA    uintptr
}

// Data returns a byte slice over the page's contents, addressed through
// this frame's virtual alias.
func (o *OwnedFrame) Data() []byte {
	return unsafeSlice(o.VA, memtypes.PageSize)
}

// Map owns the set of acquired frames, indexed by physical frame address.
// Exactly one OwnedFrame exists per key; deleting a key without first
// unmapping it (see Forget) leaks the mapping on purpose.
type Map struct {
	frames map[memtypes.FrameAddr]*OwnedFrame
}

// NewMap returns an empty frame map.
func NewMap() *Map {
	return &Map{frames: make(map[memtypes.FrameAddr]*OwnedFrame)}
}

// Get returns the owned frame for f, if any.
func (m *Map) Get(f memtypes.FrameAddr) (*OwnedFrame, bool) {
	o, ok := m.frames[f]
	return o, ok
}

// VA is a convenience accessor returning the virtual address mapped to
// frame f; it panics if f is not held, since every caller in this engine
// only asks about frames it validated were acquired.
func (m *Map) VA(f memtypes.FrameAddr) uintptr {
	o, ok := m.frames[f]
	if !ok {
		panic(fmt.Sprintf("frame: frame %s is not held", f))
	}
	return o.VA
}

// Insert adds an already-mapped frame to the map, taking ownership of it.
func (m *Map) Insert(o *OwnedFrame) {
	m.frames[o.Frame] = o
}

// Remove takes ownership of the entry for f out of the map without
// unmapping it, returning it to the caller. Used by the placement
// pipeline when a source mapping must be repurposed.
func (m *Map) Remove(f memtypes.FrameAddr) (*OwnedFrame, bool) {
	o, ok := m.frames[f]
	if ok {
		delete(m.frames, f)
	}
	return o, ok
}

// Release unmaps and drops ownership of the frame at f.
func (m *Map) Release(f memtypes.FrameAddr) error {
	o, ok := m.frames[f]
	if !ok {
		return nil
	}
	delete(m.frames, f)
	return sysmem.UnmapPage(o.VA)
}

// Forget removes every entry from the map without unmapping any of them.
// This is how ownership of the binary-carrying frames is deliberately
// leaked across the handoff to the target program: the
// virtual aliases must outlive the engine's own bookkeeping.
func (m *Map) Forget() {
	m.frames = make(map[memtypes.FrameAddr]*OwnedFrame)
}

// Len reports how many frames are currently held.
func (m *Map) Len() int { return len(m.frames) }

// Allocate repeatedly maps a single anonymous RWX page, forces it
// resident and partitions it by physical frame address: pages landing in
// targets are retained in the returned Map (and removed from targets);
// all others are held in a disposable pile until the sweep ends, then
// unmapped together and the page cache is dropped.
//
// The sweep stops once len(targets) <= dropFrac * initial target count.
// dropFrac == 0 demands every target be found. maxAttempts bounds the
// number of pages allocated before giving up with an error, so a target
// frame the kernel never reclaims into this process cannot loop forever.
func Allocate(targets map[memtypes.FrameAddr]struct{}, dropFrac float64, maxAttempts int) (*Map, error) {
	initial := len(targets)
	limit := int(dropFrac * float64(initial))
	logrus.Infof("frame: looking for %d frames, allows %.1f%% loss (= %d frames)", initial, dropFrac*100, limit)

	result := NewMap()
	var garbage []*OwnedFrame
	defer func() {
		for _, g := range garbage {
			_ = sysmem.UnmapPage(g.VA)
		}
	}()

	attempts := 0
	found := 0
	for len(targets) > limit {
		if maxAttempts > 0 && attempts >= maxAttempts {
			return nil, fmt.Errorf("frame: gave up after %d allocations with %d/%d targets still missing", attempts, len(targets), initial)
		}
		attempts++

		va, err := sysmem.MapAnonPage(unix_PROT_RWX)
		if err != nil {
			return nil, err
		}
		// Force residency: write a byte to trigger copy-on-write / demand
		// fault so the page actually backs onto a physical frame.
		unsafeSlice(va, 1)[0] = 0

		frameAddr := pagemap.VirtToPhys(va).Frame()
		o := &OwnedFrame{Frame: frameAddr, VA: va}
		if _, want := targets[frameAddr]; want {
			delete(targets, frameAddr)
			found++
			result.Insert(o)
			logrus.Infof("frame: %d. found frame %s (page %#x)", found, frameAddr, va)
		} else {
			garbage = append(garbage, o)
		}
	}

	logrus.Info("frame: unmapping all pages of no interest")
	for _, g := range garbage {
		_ = sysmem.UnmapPage(g.VA)
	}
	garbage = nil
	if err := sysmem.DropPageCache(); err != nil {
		logrus.Warnf("frame: drop_caches failed (continuing anyway): %v", err)
	}

	return result, nil
}
