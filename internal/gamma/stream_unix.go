//go:build unix

package gamma

import (
	"io"

	"golang.org/x/sys/unix"
)

// FileStream is a Stream over a raw file descriptor received from a client.
type FileStream struct {
	fd     int
	closed bool
}

var (
	_ Stream = (*FileStream)(nil)
	_ Sizer  = (*FileStream)(nil)
)

// NewFileStream takes ownership of fd.
func NewFileStream(fd int) *FileStream {
	return &FileStream{fd: fd}
}

// Size seeks to the end to learn the length and rewinds. Pipes and sockets
// report an unknown length.
func (s *FileStream) Size() (int64, bool) {
	if s.closed {
		return 0, false
	}
	end, err := unix.Seek(s.fd, 0, io.SeekEnd)
	if err != nil {
		return 0, false
	}
	if _, err := unix.Seek(s.fd, 0, io.SeekStart); err != nil {
		return 0, false
	}
	return end, true
}

func (s *FileStream) SetNonblock() error {
	if s.closed {
		return ErrStreamClosed
	}
	return unix.SetNonblock(s.fd, true)
}

func (s *FileStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	n, err := unix.Read(s.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *FileStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
