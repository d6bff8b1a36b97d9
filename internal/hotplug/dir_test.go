package hotplug

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ydb-platform/rc-manager/internal/mux"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DirSource", func() {
	var (
		dir    string
		events chan Event
		done   chan error
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		src, err := NewDirSource(dir)
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		events = make(chan Event, 8)
		done = make(chan error, 1)
		go func() {
			done <- src.Run(ctx, mux.SinkFromChan(events))
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(Receive(BeNil()))
		Eventually(events).Should(BeClosed())
	})

	It("should report created and removed files", func() {
		path := filepath.Join(dir, "lirc3")
		Expect(os.WriteFile(path, nil, 0o600)).To(Succeed())
		Eventually(events).Should(Receive(Equal(Appeared{DevPath: path})))

		Expect(os.Remove(path)).To(Succeed())
		Eventually(events).Should(Receive(Equal(Disappeared{DevPath: path})))
	})

	It("should not report writes to existing files", func() {
		path := filepath.Join(dir, "lirc0")
		Expect(os.WriteFile(path, nil, 0o600)).To(Succeed())
		Eventually(events).Should(Receive(Equal(Appeared{DevPath: path})))

		Expect(os.WriteFile(path, []byte("data"), 0o600)).To(Succeed())
		Consistently(events).ShouldNot(Receive())
	})
})

var _ = Describe("fromFsnotify", func() {
	It("should reject notifications without a path", func() {
		_, err := fromFsnotify(fsnotify.Event{Op: fsnotify.Create})
		Expect(err).To(MatchError(ErrMalformedEvent))
	})

	It("should ignore operations that do not add or remove files", func() {
		ev, err := fromFsnotify(fsnotify.Event{Name: "/dev/lirc0", Op: fsnotify.Chmod})
		Expect(err).NotTo(HaveOccurred())
		Expect(ev).To(BeNil())
	})
})

var _ = Describe("fromUdev", func() {
	DescribeTable("translating udev actions",
		func(action, devnode string, expected Event) {
			ev, err := fromUdev(action, devnode)
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).To(Equal(expected))
		},
		Entry("add", ActionAdd, "/dev/lirc0", Appeared{DevPath: "/dev/lirc0"}),
		Entry("online", ActionOnline, "/dev/lirc1", Appeared{DevPath: "/dev/lirc1"}),
		Entry("remove", ActionRemove, "/dev/lirc0", Disappeared{DevPath: "/dev/lirc0"}),
		Entry("offline", ActionOffline, "/dev/lirc1", Disappeared{DevPath: "/dev/lirc1"}),
	)

	It("should ignore actions other than add and remove", func() {
		ev, err := fromUdev("change", "/dev/lirc0")
		Expect(err).NotTo(HaveOccurred())
		Expect(ev).To(BeNil())
	})

	It("should reject add events without a device node", func() {
		_, err := fromUdev(ActionAdd, "")
		Expect(err).To(MatchError(ErrMalformedEvent))
	})
})
