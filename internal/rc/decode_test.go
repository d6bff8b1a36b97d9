package rc_test

import (
	evdev "github.com/holoplot/go-evdev"

	"github.com/ydb-platform/rc-manager/internal/rc"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DecodeEvents", func() {
	It("should use the kernel record size", func() {
		// struct input_event on 64-bit: timeval (16) + type (2) + code (2) + value (4)
		Expect(rc.RecordSize).To(Equal(24))
	})

	It("should decode what EncodeEvents produced", func() {
		events := []evdev.InputEvent{keyEvent(evdev.KEY_OK, 1), synEvent(), keyEvent(evdev.KEY_OK, 0)}

		decoded, err := rc.DecodeEvents(rc.EncodeEvents(events...))
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded).To(Equal(events))
	})

	It("should accept an empty read", func() {
		decoded, err := rc.DecodeEvents(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded).To(BeEmpty())
	})

	It("should reject a partial record", func() {
		p := rc.EncodeEvents(keyEvent(evdev.KEY_OK, 1))
		_, err := rc.DecodeEvents(p[:len(p)-1])
		Expect(err).To(MatchError(rc.ErrPartialRecordRead))
	})
})

var _ = Describe("Keystrokes", func() {
	info := rc.Info{
		LircPath:  "/dev/lirc0",
		Frontends: []rc.FrontendId{{Adapter: 1, Frontend: 0}, {Adapter: 2, Frontend: 0}},
	}

	It("should keep only key events, tagged with the first frontend", func() {
		p := rc.EncodeEvents(
			keyEvent(evdev.KEY_VOLUMEUP, 1),
			synEvent(),
			evdev.InputEvent{Type: evdev.EV_MSC, Code: evdev.MSC_SCAN, Value: 0x0410},
			keyEvent(evdev.KEY_VOLUMEUP, 2),
			keyEvent(evdev.KEY_VOLUMEUP, 0),
		)

		keystrokes, err := rc.Keystrokes(info, p)
		Expect(err).NotTo(HaveOccurred())
		Expect(keystrokes).To(Equal([]rc.TargettedKeystroke{
			{FrontendId: info.Frontends[0], Keystroke: uint32(evdev.KEY_VOLUMEUP), Value: 1, Source: "/dev/lirc0"},
			{FrontendId: info.Frontends[0], Keystroke: uint32(evdev.KEY_VOLUMEUP), Value: 2, Source: "/dev/lirc0"},
			{FrontendId: info.Frontends[0], Keystroke: uint32(evdev.KEY_VOLUMEUP), Value: 0, Source: "/dev/lirc0"},
		}))
	})

	It("should yield nothing for a receiver without frontends", func() {
		keystrokes, err := rc.Keystrokes(rc.Info{LircPath: "/dev/lirc1"}, rc.EncodeEvents(keyEvent(evdev.KEY_OK, 1)))
		Expect(err).NotTo(HaveOccurred())
		Expect(keystrokes).To(BeEmpty())
	})

	It("should pass partial records through as an error", func() {
		_, err := rc.Keystrokes(info, make([]byte, rc.RecordSize+3))
		Expect(err).To(MatchError(rc.ErrPartialRecordRead))
	})
})
