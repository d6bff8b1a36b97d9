package rc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// waker is an eventfd the poller keeps in its wait-set so that registry
// changes and shutdown interrupt a blocking poll.
type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &waker{fd: fd}, nil
}

func (w *waker) notify() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	// EAGAIN means the counter is saturated, the poller is woken anyway
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *waker) drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

func (w *waker) close() error {
	return unix.Close(w.fd)
}
