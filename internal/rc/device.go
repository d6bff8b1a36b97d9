package rc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// EVIOCGRAB = _IOW('E', 0x90, int)
const eviocgrab = 0x40044590

const DefaultAppearInterval = 500 * time.Millisecond

type OpenOptions struct {
	// AppearInterval is how often the event file is looked for.
	AppearInterval time.Duration
	// AppearTimeout bounds the wait for the event file; zero waits forever.
	AppearTimeout time.Duration
}

// RemoteControl owns the exclusively grabbed event device of one
// receiver. The grab is held until Close.
type RemoteControl struct {
	info Info

	mu sync.Mutex
	fd int
}

// Open resolves lircPath to its event device, waits for the event file
// to show up, opens it and grabs it.
func Open(ctx context.Context, r *Resolver, lircPath string, opts OpenOptions) (*RemoteControl, error) {
	sysRcPath, err := r.LircToSysPath(lircPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get sys path for %s: %w", lircPath, err)
	}
	frontends := r.FindFrontends(sysRcPath)
	eventPath, err := r.EventPath(sysRcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find event file for %s: %w", sysRcPath, err)
	}
	klog.V(2).Infof("%s: sysfs node %s, event file %s, frontends %v", lircPath, sysRcPath, eventPath, frontends)

	if err := waitForFile(ctx, eventPath, opts); err != nil {
		return nil, err
	}

	return OpenEventFile(Info{
		LircPath:  lircPath,
		SysRcPath: sysRcPath,
		EventPath: eventPath,
		Frontends: frontends,
	})
}

// OpenEventFile opens and grabs info.EventPath, which must already exist.
func OpenEventFile(info Info) (*RemoteControl, error) {
	fd, err := unix.Open(info.EventPath, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open %s: %v", ErrEventFileUnavailable, info.EventPath, err)
	}
	if err := unix.IoctlSetInt(fd, eviocgrab, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s: %v", ErrGrabFailed, info.EventPath, err)
	}
	return &RemoteControl{info: info, fd: fd}, nil
}

// NewOpener returns an Opener that builds RemoteControls with r.
func NewOpener(r *Resolver, opts OpenOptions) Opener {
	return func(ctx context.Context, lircPath string) (Device, error) {
		dev, err := Open(ctx, r, lircPath, opts)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// waitForFile bridges udev creating the sysfs entry before the event file.
func waitForFile(ctx context.Context, path string, opts OpenOptions) error {
	interval := opts.AppearInterval
	if interval <= 0 {
		interval = DefaultAppearInterval
	}
	var deadline <-chan time.Time
	if opts.AppearTimeout > 0 {
		timer := time.NewTimer(opts.AppearTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := os.Stat(path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrEventFileUnavailable, err)
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("%w: %s after %s", ErrDeviceNeverAppeared, path, opts.AppearTimeout)
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		}
	}
}

func (d *RemoteControl) Info() Info {
	return d.info
}

func (d *RemoteControl) Fd() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fd
}

// Read never blocks: the descriptor is non-blocking and a pending-less
// read returns 0, nil. io.EOF means the device went away.
func (d *RemoteControl) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return 0, ErrDeviceClosed
	}
	n, err := unix.Read(d.fd, p)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read %s: %w", d.info.EventPath, err)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

// Close releases the grab and then closes the descriptor. It is safe to
// call more than once.
func (d *RemoteControl) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	var errs error
	if err := unix.IoctlSetInt(d.fd, eviocgrab, 0); err != nil {
		errs = errors.Join(errs, fmt.Errorf("ungrab %s: %w", d.info.EventPath, err))
	}
	if err := unix.Close(d.fd); err != nil {
		errs = errors.Join(errs, fmt.Errorf("close %s: %w", d.info.EventPath, err))
	}
	d.fd = -1
	return errs
}
