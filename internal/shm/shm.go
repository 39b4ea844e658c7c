// Package shm provides helpers for dealing with shared memory.
package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Create returns an anonymous file of the given size suitable for
// sharing with another process.
func Create(name string, size int) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), name)

	err = file.Truncate(int64(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("truncate to %v: %w", size, err)
	}
	return file, nil
}

type Mmap []byte

// Map maps size bytes of file into memory, shared with every other
// process that maps it.
func Map(file *os.File, size int, prot int) (mmap Mmap, err error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid mapping size %v", size)
	}

	sc, err := file.SyscallConn()
	if err != nil {
		return nil, err
	}

	cerr := sc.Control(func(fd uintptr) {
		m, merr := unix.Mmap(int(fd), 0, size, prot, unix.MAP_SHARED)
		mmap, err = Mmap(m), merr
	})
	if cerr != nil {
		return nil, cerr
	}

	return mmap, err
}

func (mmap Mmap) Unmap() error {
	if mmap == nil {
		return nil
	}
	return unix.Munmap(mmap)
}
