// Package hotplug turns operating system device notifications into
// Appeared and Disappeared events keyed by device file path.
package hotplug

import (
	"context"
	"errors"

	"github.com/ydb-platform/rc-manager/internal/mux"
)

// ErrMalformedEvent marks a notification that could not be turned into an Event.
var ErrMalformedEvent = errors.New("malformed hotplug notification")

type Event interface {
	Path() string
	eventSealed()
}

// Appeared is emitted when a device file is created.
type Appeared struct {
	DevPath string
}

func (a Appeared) Path() string { return a.DevPath }

func (Appeared) eventSealed() {}

// Disappeared is emitted when a device file is removed.
type Disappeared struct {
	DevPath string
}

func (d Disappeared) Path() string { return d.DevPath }

func (Disappeared) eventSealed() {}

// Source delivers hotplug events to sink until ctx is cancelled. Run
// closes the sink before returning.
type Source interface {
	Run(ctx context.Context, sink mux.Sink[Event]) error
}
