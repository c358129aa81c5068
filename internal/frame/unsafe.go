package frame

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const unix_PROT_RWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC

func unsafeSlice(va uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(va)), n)
}
