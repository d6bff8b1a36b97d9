package rc

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/mux"
)

const DefaultLircGlob = "/dev/lirc*"

// publishTimeout bounds how long a change waits for the event fan-out.
const publishTimeout = 250 * time.Millisecond

// Opener builds the Device for a lirc device file.
type Opener func(ctx context.Context, lircPath string) (Device, error)

type Event interface {
	eventSealed()
}

// Init lists the devices registered when a subscription starts.
type Init struct {
	Infos []Info
}

func (Init) eventSealed() {}

type Added struct {
	Info
}

func (Added) eventSealed() {}

type Removed struct {
	Info
}

func (Removed) eventSealed() {}

// Registry holds the remote controls currently known. mu is only ever
// held for slice manipulation, never across device I/O. pubMu orders
// change events against new subscriptions.
type Registry struct {
	mu      sync.Mutex
	devices []Device

	pubMu sync.Mutex

	opener Opener
	wake   *waker
	events *mux.Mux[Event]
}

func NewRegistry(opener Opener) (*Registry, error) {
	wake, err := newWaker()
	if err != nil {
		klog.Errorf("failed to create registry wake descriptor: %v", err)
		return nil, fmt.Errorf("failed to create registry wake descriptor: %w", err)
	}
	return &Registry{
		opener: opener,
		wake:   wake,
		events: mux.Make(mux.Buffered[Event](16), mux.WithSubmitTimeout[Event](publishTimeout)),
	}, nil
}

func (r *Registry) indexOf(lircPath string) int {
	for i, dev := range r.devices {
		if dev.Info().LircPath == lircPath {
			return i
		}
	}
	return -1
}

func (r *Registry) Contains(lircPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(lircPath) >= 0
}

// AddIfResolvable opens lircPath and registers it. Failures are logged
// and leave the registry unchanged; the device may just not be a
// supported remote.
func (r *Registry) AddIfResolvable(ctx context.Context, lircPath string) bool {
	if r.Contains(lircPath) {
		klog.V(2).Infof("remote control %q is already registered", lircPath)
		return false
	}

	dev, err := r.opener(ctx, lircPath)
	if err != nil {
		klog.Errorf("failed to add remote control %q (is the user in group input?): %v", lircPath, err)
		return false
	}

	r.mu.Lock()
	if r.indexOf(lircPath) >= 0 {
		r.mu.Unlock()
		klog.V(2).Infof("remote control %q was registered concurrently, dropping duplicate", lircPath)
		closeDevice(dev)
		return false
	}
	r.devices = append(r.devices, dev)
	r.mu.Unlock()

	info := dev.Info()
	klog.Infof("added remote control %q (event file %q, frontends %v)", lircPath, info.EventPath, info.Frontends)
	if len(info.Frontends) == 0 {
		klog.Warningf("remote control %q has no DVB frontend, its keys will be dropped", lircPath)
	}
	r.changed(Added{info})
	return true
}

// Remove drops and closes the device registered for lircPath.
func (r *Registry) Remove(lircPath string) bool {
	r.mu.Lock()
	i := r.indexOf(lircPath)
	if i < 0 {
		r.mu.Unlock()
		klog.V(2).Infof("remote control %q is not registered", lircPath)
		return false
	}
	dev := r.devices[i]
	r.devices = append(r.devices[:i:i], r.devices[i+1:]...)
	r.mu.Unlock()

	r.release(dev)
	return true
}

// removeDevice drops dev itself, not whatever is registered under its
// path by now.
func (r *Registry) removeDevice(dev Device) bool {
	r.mu.Lock()
	i := -1
	for j, d := range r.devices {
		if d == dev {
			i = j
			break
		}
	}
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	r.devices = append(r.devices[:i:i], r.devices[i+1:]...)
	r.mu.Unlock()

	r.release(dev)
	return true
}

func (r *Registry) release(dev Device) {
	closeDevice(dev)
	klog.Infof("removed remote control %q", dev.Info().LircPath)
	r.changed(Removed{dev.Info()})
}

func closeDevice(dev Device) {
	if err := dev.Close(); err != nil {
		klog.Errorf("failed to release remote control %q: %v", dev.Info().LircPath, err)
	}
}

func (r *Registry) changed(ev Event) {
	r.wake.notify()
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if err := r.events.Submit(ev); err != nil {
		klog.Errorf("failed to publish registry change: %v", err)
	}
}

// Snapshot returns the registered devices at this point in time.
func (r *Registry) Snapshot() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices := make([]Device, len(r.devices))
	copy(devices, r.devices)
	return devices
}

func (r *Registry) Infos() []Info {
	devices := r.Snapshot()
	infos := make([]Info, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, dev.Info())
	}
	return infos
}

// InitialPopulate tries every lirc device matching glob, each one
// independently of the others, and returns how many were added.
func (r *Registry) InitialPopulate(ctx context.Context, glob string) int {
	paths, err := filepath.Glob(glob)
	if err != nil {
		klog.Errorf("failed to glob %q: %v", glob, err)
		return 0
	}
	added := 0
	for _, path := range paths {
		if r.AddIfResolvable(ctx, path) {
			added++
		}
	}
	klog.Infof("found %d remote control(s) out of %d lirc device(s)", added, len(paths))
	return added
}

// Subscribe sends an Init with the current devices, followed by every
// later Added and Removed. A device removed after the Init snapshot is
// always followed by its Removed. An Added may repeat a device listed in
// Init, and a Removed may name one Init never listed. sink.Submit must
// not call back into the registry.
func (r *Registry) Subscribe(sink mux.Sink[Event]) mux.CancelFunc {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if err := sink.Submit(Init{Infos: r.Infos()}); err != nil {
		klog.Errorf("failed to submit registry init event: %v", err)
	}
	return r.events.Subscribe(sink)
}

// Close releases every registered device. The poller must have stopped.
func (r *Registry) Close() {
	r.mu.Lock()
	devices := r.devices
	r.devices = nil
	r.mu.Unlock()

	for _, dev := range devices {
		closeDevice(dev)
	}
	r.events.Close()
	if err := r.wake.close(); err != nil {
		klog.Errorf("failed to close registry wake descriptor: %v", err)
	}
}
