package hammer

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// DevMemBackend hammers by reading directly out of /dev/mem at physical
// offsets, bypassing the virtual-memory translation the other two
// backends rely on. Unlike jitBackend and portableBackend, the addresses
// passed to Hammer are interpreted as physical addresses, not process
// virtual addresses — this backend exists for development and CI against
// hosts with no rowhammer-susceptible DRAM, where template and flip-check
// plumbing still needs exercising end to end.
type DevMemBackend struct {
	mem *os.File
}

// NewDevMemBackend opens /dev/mem for reading. Requires CAP_SYS_RAWIO (in
// practice, root).
func NewDevMemBackend() (*DevMemBackend, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("hammer: opening /dev/mem: %w", err)
	}
	return &DevMemBackend{mem: f}, nil
}

// Close releases the underlying /dev/mem file descriptor.
func (d *DevMemBackend) Close() error {
	return d.mem.Close()
}

// Hammer reads one byte at every physical address in rows, count times,
// with fillerCount extra reads of the same byte interleaved to match the
// other backends' call shape. It never actually induces disturbance
// errors — there is no way to clflush by physical address from userspace
// — so it is strictly a plumbing exerciser, not a substitute for
// jitBackend or portableBackend.
func (d *DevMemBackend) Hammer(rows [][]uintptr, fillerCount int, count uint64) (time.Duration, error) {
	if err := validateRows(rows); err != nil {
		return 0, err
	}
	logrus.Warn("hammer: using /dev/mem debug backend; this will not induce real disturbance errors")
	start := time.Now()
	var buf [1]byte
	for i := uint64(0); i < count; i++ {
		for _, row := range rows {
			for _, addr := range row {
				if _, err := d.mem.ReadAt(buf[:], int64(addr)); err != nil {
					return time.Since(start), fmt.Errorf("hammer: reading /dev/mem at %#x: %w", addr, err)
				}
				for f := 0; f < fillerCount; f++ {
					if _, err := d.mem.ReadAt(buf[:], int64(addr)); err != nil {
						return time.Since(start), fmt.Errorf("hammer: reading /dev/mem at %#x: %w", addr, err)
					}
				}
			}
		}
	}
	return time.Since(start), nil
}
