package hotplug

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/mux"
)

// DirSource watches a single directory, non-recursively.
type DirSource struct {
	dir     string
	watcher *fsnotify.Watcher
}

// NewDirSource starts watching dir right away so that files created
// between construction and Run are not missed.
func NewDirSource(dir string) (*DirSource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		klog.Errorf("failed to create fsnotify watcher: %v", err)
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		klog.Errorf("failed to watch %q: %v", dir, err)
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &DirSource{dir: dir, watcher: watcher}, nil
}

func (s *DirSource) Run(ctx context.Context, sink mux.Sink[Event]) error {
	defer sink.Close()
	defer s.watcher.Close()

	klog.Infof("Watching %q for device files", s.dir)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			ev, err := fromFsnotify(event)
			if err != nil {
				klog.Errorf("ignoring notification in %q: %v", s.dir, err)
				continue
			}
			if ev == nil {
				continue
			}
			klog.V(5).Infof("hotplug %T: %s", ev, ev.Path())
			if err := sink.Submit(ev); err != nil {
				klog.Errorf("failed to submit hotplug event for %q: %v", ev.Path(), err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("fsnotify error while watching %q: %v", s.dir, err)
		case <-ctx.Done():
			return nil
		}
	}
}

// fromFsnotify returns a nil Event for operations that do not change
// the set of device files.
func fromFsnotify(event fsnotify.Event) (Event, error) {
	if event.Name == "" {
		return nil, fmt.Errorf("%w: %v without a path", ErrMalformedEvent, event.Op)
	}
	switch {
	case event.Has(fsnotify.Create):
		return Appeared{DevPath: event.Name}, nil
	case event.Has(fsnotify.Remove):
		return Disappeared{DevPath: event.Name}, nil
	}
	return nil, nil
}
