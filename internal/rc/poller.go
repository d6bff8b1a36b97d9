package rc

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/mux"
)

const DefaultMaxEvents = 64

// Poller waits on every registered device at once and forwards the key
// events it reads to a sink.
type Poller struct {
	registry  *Registry
	sink      mux.Sink[TargettedKeystroke]
	errors    mux.Sink[DeviceError]
	maxEvents int
}

type PollerOption interface {
	apply(*Poller)
}

type maxEvents int

func (m maxEvents) apply(p *Poller) {
	p.maxEvents = int(m)
}

// WithMaxEvents bounds how many records a single read may return.
func WithMaxEvents(n int) PollerOption {
	return maxEvents(n)
}

type errorSink struct {
	sink mux.Sink[DeviceError]
}

func (e errorSink) apply(p *Poller) {
	p.errors = e.sink
}

// WithErrorSink receives a DeviceError for every device dropped after
// failing to read.
func WithErrorSink(sink mux.Sink[DeviceError]) PollerOption {
	return errorSink{sink}
}

func NewPoller(registry *Registry, sink mux.Sink[TargettedKeystroke], opts ...PollerOption) *Poller {
	p := &Poller{
		registry:  registry,
		sink:      sink,
		maxEvents: DefaultMaxEvents,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(p)
	}
	if p.maxEvents <= 0 {
		p.maxEvents = DefaultMaxEvents
	}
	return p
}

// Run polls until ctx is cancelled. The wait-set is rebuilt from a
// registry snapshot on every cycle, and the registry wakes the poll on
// every change, so hotplug is picked up within one cycle. A partial
// record read is returned as an error; any other device failure only
// drops that device.
func (p *Poller) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.registry.wake.notify)
	defer stop()

	buf := make([]byte, p.maxEvents*RecordSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		devices := p.registry.Snapshot()
		fds := make([]unix.PollFd, 0, len(devices)+1)
		fds = append(fds, unix.PollFd{Fd: int32(p.registry.wake.fd), Events: unix.POLLIN})
		for _, dev := range devices {
			fds = append(fds, unix.PollFd{Fd: int32(dev.Fd()), Events: unix.POLLIN})
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if fds[0].Revents != 0 {
			p.registry.wake.drain()
		}
		for i, dev := range devices {
			revents := fds[i+1].Revents
			if revents == 0 {
				continue
			}
			err := p.service(dev, revents, buf)
			switch {
			case err == nil, errors.Is(err, ErrDeviceClosed):
				// closed devices were removed by hotplug meanwhile
			case errors.Is(err, ErrPartialRecordRead):
				klog.Errorf("%s: %v", dev.Info().LircPath, err)
				return err
			default:
				p.fail(dev, err)
			}
		}
	}
}

func (p *Poller) service(dev Device, revents int16, buf []byte) error {
	if revents&unix.POLLIN == 0 {
		return fmt.Errorf("device reported poll events %#x without data", revents)
	}
	info := dev.Info()
	n, err := dev.Read(buf)
	if err != nil {
		return err
	}
	keystrokes, err := Keystrokes(info, buf[:n])
	if err != nil {
		return err
	}
	for _, ks := range keystrokes {
		klog.V(5).Infof("%s: key %d value %d for %s", info.LircPath, ks.Keystroke, ks.Value, ks.FrontendId)
		if err := p.sink.Submit(ks); err != nil {
			klog.Warningf("dropped key %d from %s: %v", ks.Keystroke, info.LircPath, err)
		}
	}
	return nil
}

func (p *Poller) fail(dev Device, err error) {
	lircPath := dev.Info().LircPath
	klog.Errorf("remote control %q failed, removing it: %v", lircPath, err)
	if !p.registry.removeDevice(dev) {
		return
	}
	if p.errors != nil {
		if err := p.errors.Submit(DeviceError{LircPath: lircPath, Err: err}); err != nil {
			klog.Errorf("failed to report failure of %q: %v", lircPath, err)
		}
	}
}
