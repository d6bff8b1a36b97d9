package hotplug

import (
	"context"
	"fmt"
	"time"

	libudev "github.com/jochenvg/go-udev"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/mux"
)

const (
	LircSubsystem = "lirc"

	ActionAdd     = "add"
	ActionRemove  = "remove"
	ActionOffline = "offline"
	ActionOnline  = "online"
)

// UdevSource listens on the udev netlink socket for devices of one
// subsystem and reports their device nodes.
type UdevSource struct {
	udev       libudev.Udev
	subsystem  string
	retryDelay time.Duration
}

func NewUdevSource(subsystem string) *UdevSource {
	return &UdevSource{
		subsystem:  subsystem,
		retryDelay: 1 * time.Second,
	}
}

func (s *UdevSource) connect(ctx context.Context) (<-chan *libudev.Device, <-chan error, error) {
	mon := s.udev.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem(s.subsystem); err != nil {
		return nil, nil, fmt.Errorf("failed to filter udev monitor on %q: %w", s.subsystem, err)
	}
	return mon.DeviceChan(ctx)
}

func (s *UdevSource) Run(ctx context.Context, sink mux.Sink[Event]) error {
	defer sink.Close()

	devChan, errChan, err := s.connect(ctx)
	if err != nil {
		klog.Errorf("Failed to create udev device channel: %v", err)
		return err
	}
	klog.Infof("Listening for udev %q events", s.subsystem)

	for {
		select {
		case dev, ok := <-devChan:
			if !ok {
				return nil
			}
			klog.V(5).Infof("Received device event (%s): %s", dev.Action(), dev.Syspath())
			ev, err := fromUdev(dev.Action(), dev.Devnode())
			if err != nil {
				klog.Errorf("ignoring udev event for %q: %v", dev.Syspath(), err)
				continue
			}
			if ev == nil {
				continue
			}
			if err := sink.Submit(ev); err != nil {
				klog.Errorf("failed to submit hotplug event for %q: %v", ev.Path(), err)
			}
		case err, ok := <-errChan:
			if !ok {
				return nil
			}
			klog.Errorf("Error from udev monitor, will try to reconnect: %v", err)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(s.retryDelay):
				}
				devChan, errChan, err = s.connect(ctx)
				if err == nil {
					break
				}
				klog.Errorf("Failed to create udev device channel, retrying: %v", err)
			}
			klog.Infof("Successfully reconnected to udev")
		case <-ctx.Done():
			return nil
		}
	}
}

func fromUdev(action, devnode string) (Event, error) {
	switch action {
	case ActionAdd, ActionOnline, ActionRemove, ActionOffline:
	default:
		return nil, nil
	}
	if devnode == "" {
		return nil, fmt.Errorf("%w: %s without a device node", ErrMalformedEvent, action)
	}
	if action == ActionAdd || action == ActionOnline {
		return Appeared{DevPath: devnode}, nil
	}
	return Disappeared{DevPath: devnode}, nil
}
