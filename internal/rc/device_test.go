package rc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/ydb-platform/rc-manager/internal/rc"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Open", func() {
	var (
		tree *sysfsTree
		ctx  context.Context
		opts rc.OpenOptions
	)

	BeforeEach(func() {
		tree = newSysfsTree()
		tree.addRc("rc0", lavaineRc0, "lirc0", "dvb0.frontend0")
		ctx = context.Background()
		opts = rc.OpenOptions{AppearInterval: 10 * time.Millisecond, AppearTimeout: 200 * time.Millisecond}
	})

	It("should fail for a lirc device without an rc node", func() {
		_, err := rc.Open(ctx, tree.resolver, "/dev/lirc9", opts)
		Expect(err).To(MatchError(rc.ErrPathResolutionAmbiguous))
	})

	It("should give up when the event file never appears", func() {
		_, err := rc.Open(ctx, tree.resolver, "/dev/lirc0", opts)
		Expect(err).To(MatchError(rc.ErrDeviceNeverAppeared))
	})

	It("should stop waiting when cancelled", func() {
		ctx, cancel := context.WithCancel(ctx)
		opts.AppearTimeout = 0
		go func() {
			defer GinkgoRecover()
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		_, err := rc.Open(ctx, tree.resolver, "/dev/lirc0", opts)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("should refuse to grab something that is not an input device", func() {
		tree.touchEvent("pci-0000:00:14.0-usb-0:1:1.0-event")

		_, err := rc.Open(ctx, tree.resolver, "/dev/lirc0", opts)
		Expect(err).To(MatchError(rc.ErrGrabFailed))
	})

	It("should wait for an event file created late", func() {
		opts.AppearTimeout = 5 * time.Second
		go func() {
			defer GinkgoRecover()
			time.Sleep(50 * time.Millisecond)
			tree.touchEvent("pci-0000:00:14.0-usb-0:1:1.0-event")
		}()

		// it appeared, so the failure is about grabbing a plain file
		_, err := rc.Open(ctx, tree.resolver, "/dev/lirc0", opts)
		Expect(err).To(MatchError(rc.ErrGrabFailed))
	})

	It("should report an unreadable event file", func() {
		if os.Geteuid() == 0 {
			Skip("root can open any file")
		}
		path := tree.touchEvent("pci-0000:00:14.0-usb-0:1:1.0-event")
		Expect(os.Chmod(path, 0)).To(Succeed())

		_, err := rc.Open(ctx, tree.resolver, "/dev/lirc0", opts)
		Expect(err).To(MatchError(rc.ErrEventFileUnavailable))
	})

	It("should grab a real receiver", func() {
		lircs, _ := filepath.Glob(rc.DefaultLircGlob)
		if len(lircs) == 0 {
			Skip("no lirc device on this host")
		}
		dev, err := rc.Open(ctx, rc.DefaultResolver(), lircs[0], rc.OpenOptions{AppearTimeout: time.Second})
		if err != nil {
			Skip("lirc device is not a usable receiver: " + err.Error())
		}
		Expect(dev.Fd()).To(BeNumerically(">=", 0))
		Expect(dev.Info().LircPath).To(Equal(lircs[0]))

		n, err := dev.Read(make([]byte, 64*rc.RecordSize))
		Expect(err).NotTo(HaveOccurred())
		Expect(n % rc.RecordSize).To(BeZero())

		Expect(dev.Close()).To(Succeed())
		Expect(dev.Close()).To(Succeed())
		Expect(dev.Fd()).To(Equal(-1))
		_, err = dev.Read(make([]byte, rc.RecordSize))
		Expect(err).To(MatchError(rc.ErrDeviceClosed))

		again, err := rc.Open(ctx, rc.DefaultResolver(), lircs[0], rc.OpenOptions{AppearTimeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Close()).To(Succeed())
	})

	It("should release the grab of a virtual receiver on close", func() {
		info := rc.Info{LircPath: "/dev/lirc-virtual", EventPath: virtualReceiver()}

		dev, err := rc.OpenEventFile(info)
		Expect(err).NotTo(HaveOccurred())
		Expect(dev.Info()).To(Equal(info))

		_, err = rc.OpenEventFile(info)
		Expect(err).To(MatchError(rc.ErrGrabFailed))

		n, err := dev.Read(make([]byte, 64*rc.RecordSize))
		Expect(err).NotTo(HaveOccurred())
		Expect(n % rc.RecordSize).To(BeZero())

		Expect(dev.Close()).To(Succeed())
		Expect(dev.Fd()).To(Equal(-1))

		again, err := rc.OpenEventFile(info)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Close()).To(Succeed())
	})
})
