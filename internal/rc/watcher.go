package rc

import (
	"context"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/hotplug"
	"github.com/ydb-platform/rc-manager/internal/mux"
)

const DefaultLircPrefix = "lirc"

// Watcher applies hotplug events for lirc device files to a Registry.
type Watcher struct {
	registry *Registry
	match    mux.FilterFunc[hotplug.Event]
}

func NewWatcher(registry *Registry, prefix string) *Watcher {
	name := func(ev hotplug.Event) string {
		return filepath.Base(ev.Path())
	}
	return &Watcher{
		registry: registry,
		match:    mux.And(mux.NonEmpty(hotplug.Event.Path), mux.HasPrefix(name, prefix)),
	}
}

// Run handles events until the channel is closed or ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, events <-chan hotplug.Event) {
	sink := w.Sink(ctx)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.submit(sink, ev)
		case <-ctx.Done():
			return
		}
	}
}

// Sink applies matching events to the registry from the submitting
// goroutine. Events for other device files are dropped.
func (w *Watcher) Sink(ctx context.Context) mux.Sink[hotplug.Event] {
	return mux.FilterSink(mux.SinkFunc(func(ev hotplug.Event) error {
		w.apply(ctx, ev)
		return nil
	}), w.match)
}

func (w *Watcher) Handle(ctx context.Context, ev hotplug.Event) {
	w.submit(w.Sink(ctx), ev)
}

func (w *Watcher) submit(sink mux.Sink[hotplug.Event], ev hotplug.Event) {
	if ev == nil {
		klog.Errorf("ignoring hotplug event: %v", ErrMalformedWatchEvent)
		return
	}
	if err := sink.Submit(ev); err != nil {
		klog.Errorf("failed to apply hotplug %T for %q: %v", ev, ev.Path(), err)
	}
}

func (w *Watcher) apply(ctx context.Context, ev hotplug.Event) {
	switch ev := ev.(type) {
	case hotplug.Appeared:
		klog.V(2).Infof("lirc device %q appeared", ev.DevPath)
		w.registry.AddIfResolvable(ctx, ev.DevPath)
	case hotplug.Disappeared:
		klog.V(2).Infof("lirc device %q disappeared", ev.DevPath)
		w.registry.Remove(ev.DevPath)
	}
}
