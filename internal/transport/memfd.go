//go:build linux

package transport

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// NewRampFile copies raw into a sealed-size anonymous file rewound to the
// start, suitable for set_gamma.
func NewRampFile(raw []byte) (int, error) {
	fd, err := unix.MemfdCreate("gamma-ramp", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	for off := 0; off < len(raw); {
		n, err := unix.Write(fd, raw[off:])
		if err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("write ramp: %w", err)
		}
		off += n
	}
	if _, err := unix.Seek(fd, 0, io.SeekStart); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("rewind ramp: %w", err)
	}
	seals := unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, seals); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("seal ramp: %w", err)
	}
	return fd, nil
}
