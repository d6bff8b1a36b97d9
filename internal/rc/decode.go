package rc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	evdev "github.com/holoplot/go-evdev"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/mux"
)

// RecordSize is the size of one kernel struct input_event.
var RecordSize = binary.Size(evdev.InputEvent{})

// IsKeyEvent matches EV_KEY records (press, release and repeat).
var IsKeyEvent mux.FilterFunc[evdev.InputEvent] = func(ev evdev.InputEvent) bool {
	return ev.Type == evdev.EV_KEY
}

// DecodeEvents splits p into input event records. p must hold a whole
// number of records.
func DecodeEvents(p []byte) ([]evdev.InputEvent, error) {
	if len(p)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrPartialRecordRead, len(p), RecordSize)
	}
	events := make([]evdev.InputEvent, len(p)/RecordSize)
	if len(events) == 0 {
		return events, nil
	}
	if err := binary.Read(bytes.NewReader(p), binary.NativeEndian, events); err != nil {
		return nil, fmt.Errorf("decode input events: %w", err)
	}
	return events, nil
}

// EncodeEvents is the inverse of DecodeEvents.
func EncodeEvents(events ...evdev.InputEvent) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(events)*RecordSize))
	// writes into a bytes.Buffer of fixed-size values cannot fail
	_ = binary.Write(buf, binary.NativeEndian, events)
	return buf.Bytes()
}

// Keystrokes decodes p and keeps the key events, attributed to the
// device's first frontend. Devices without frontends yield nothing.
func Keystrokes(info Info, p []byte) ([]TargettedKeystroke, error) {
	events, err := DecodeEvents(p)
	if err != nil {
		return nil, err
	}
	var keystrokes []TargettedKeystroke
	for _, ev := range events {
		if !IsKeyEvent(ev) {
			continue
		}
		if len(info.Frontends) == 0 {
			klog.V(5).Infof("%s: dropping key %d, no frontend to attribute it to", info.LircPath, ev.Code)
			continue
		}
		keystrokes = append(keystrokes, TargettedKeystroke{
			FrontendId: info.Frontends[0],
			Keystroke:  uint32(ev.Code),
			Value:      uint32(ev.Value),
			Source:     info.LircPath,
		})
	}
	return keystrokes, nil
}
