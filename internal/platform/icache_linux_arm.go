package platform

import "golang.org/x/sys/unix"

// sysCacheflush is the ARM private "cacheflush" system call (__ARM_NR_cacheflush).
const sysCacheflush = 0x0f0002

func flushICache(addr uintptr, size int) {
	if size == 0 {
		return
	}
	if _, _, errno := unix.Syscall(sysCacheflush, addr, addr+uintptr(size), 0); errno != 0 {
		panic("BUG: cacheflush failed: " + errno.Error())
	}
}
