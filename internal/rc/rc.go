// Package rc discovers infra-red remote-control receivers, grabs their
// input event streams and forwards key events tagged with the tuner
// frontend each receiver belongs to.
package rc

import (
	"errors"
	"fmt"

	"github.com/ydb-platform/rc-manager/internal/hotplug"
)

var (
	ErrPathResolutionAmbiguous = errors.New("lirc device does not resolve to exactly one sysfs rc node")
	ErrSymlinkUnreadable       = errors.New("cannot read sysfs rc symlink")
	ErrMalformedSysPath        = errors.New("unexpected sysfs rc symlink target")
	ErrEventFileUnavailable    = errors.New("input event file unavailable")
	ErrDeviceNeverAppeared     = errors.New("input event file did not appear in time")
	ErrGrabFailed              = errors.New("exclusive grab of input device failed")
	ErrPartialRecordRead       = errors.New("read returned a partial input event record")
	ErrDeviceClosed            = errors.New("remote control is closed")
	ErrMalformedWatchEvent     = hotplug.ErrMalformedEvent
)

// FrontendId identifies a DVB tuner frontend.
type FrontendId struct {
	Adapter  uint8 `json:"adapter"`
	Frontend uint8 `json:"frontend"`
}

func (f FrontendId) String() string {
	return fmt.Sprintf("adapter%d/frontend%d", f.Adapter, f.Frontend)
}

// TargettedKeystroke is one key event destined for the frontend's GUI.
type TargettedKeystroke struct {
	FrontendId FrontendId `json:"frontend_id"`
	Keystroke  uint32     `json:"keystroke"`
	Value      uint32     `json:"value"`
	Source     string     `json:"source,omitempty"` // lirc path of the receiver
}

// DeviceError reports a registered device that failed while being
// read and was dropped from the registry.
type DeviceError struct {
	LircPath string
	Err      error
}

func (e DeviceError) Error() string {
	return fmt.Sprintf("remote control %s: %v", e.LircPath, e.Err)
}

func (e DeviceError) Unwrap() error {
	return e.Err
}

// Info describes the three path identities of one receiver.
type Info struct {
	LircPath  string       `json:"lirc_path"`
	SysRcPath string       `json:"sys_rc_path"`
	EventPath string       `json:"event_path"`
	Frontends []FrontendId `json:"frontends"`
}

// Device is a registered receiver as seen by the registry and poller.
type Device interface {
	Info() Info
	// Fd is the descriptor to wait on, or -1 once closed.
	Fd() int
	// Read returns 0, nil when no data is pending.
	Read(p []byte) (int, error)
	Close() error
}
