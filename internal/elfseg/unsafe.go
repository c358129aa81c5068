package elfseg

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	unix_PROT_RX   = unix.PROT_READ | unix.PROT_EXEC
	unix_PROT_NONE = unix.PROT_NONE
)

func ptr(va uintptr) unsafe.Pointer {
	return unsafe.Pointer(va)
}

func unsafeSlice(va uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(va)), n)
}

// isMapped reports whether va falls within any range this process
// currently has mapped, per /proc/self/maps.
func isMapped(va uintptr) bool {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		panic(fmt.Sprintf("elfseg: reading /proc/self/maps: %v", err))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		bounds := strings.SplitN(sc.Text(), " ", 2)
		if len(bounds) == 0 {
			continue
		}
		se := strings.SplitN(bounds[0], "-", 2)
		if len(se) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(se[0], 16, 64)
		end, err2 := strconv.ParseUint(se[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if uint64(va) >= start && uint64(va) < end {
			return true
		}
	}
	return false
}
