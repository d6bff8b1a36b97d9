package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	It("should fall back to defaults for an empty document", func() {
		config, err := parseConfig(strings.NewReader(""), formatYAML)
		Expect(err).NotTo(HaveOccurred())
		Expect(config).To(Equal(defaultConfig()))
	})

	It("should overlay yaml on the defaults", func() {
		config, err := parseConfig(strings.NewReader(`
devices:
  appearTimeout: 5s
hotplug:
  source: udev
  dir: ""
poller:
  maxEvents: 16
health:
  grpcSocket: /run/rc-manager/health.sock
`), formatYAML)
		Expect(err).NotTo(HaveOccurred())

		expected := defaultConfig()
		expected.Devices.AppearTimeout = 5 * time.Second
		expected.Hotplug.Source = sourceUdev
		expected.Hotplug.Dir = ""
		expected.Poller.MaxEvents = 16
		expected.Health.GrpcSocket = "/run/rc-manager/health.sock"
		Expect(config).To(Equal(expected))
	})

	It("should overlay toml on the defaults", func() {
		config, err := parseConfig(strings.NewReader(`
[devices]
lircGlob = "/dev/lirc[01]"
appearInterval = "100ms"

[sink]
buffer = 8
`), formatTOML)
		Expect(err).NotTo(HaveOccurred())

		expected := defaultConfig()
		expected.Devices.LircGlob = "/dev/lirc[01]"
		expected.Devices.AppearInterval = 100 * time.Millisecond
		expected.Sink.Buffer = 8
		Expect(config).To(Equal(expected))
	})

	It("should reject unknown keys", func() {
		_, err := parseConfig(strings.NewReader("devices:\n  lircGlobs: /dev/lirc*\n"), formatYAML)
		Expect(err).To(HaveOccurred())

		_, err = parseConfig(strings.NewReader("[device]\nlircGlob = \"x\"\n"), formatTOML)
		Expect(err).To(MatchError(ContainSubstring("unknown config keys")))
	})

	It("should report every invalid field", func() {
		_, err := parseConfig(strings.NewReader(`
devices:
  appearInterval: 0s
hotplug:
  source: inotify
  prefix: ""
poller:
  maxEvents: 4096
sink:
  buffer: 0
`), formatYAML)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(And(
			ContainSubstring(".devices.appearInterval"),
			ContainSubstring(".hotplug.source"),
			ContainSubstring(".hotplug.prefix"),
			ContainSubstring(".poller.maxEvents"),
			ContainSubstring(".sink.buffer"),
		))
	})

	It("should require a watched directory for fsnotify", func() {
		_, err := parseConfig(strings.NewReader("hotplug:\n  dir: \"\"\n"), formatYAML)
		Expect(err).To(MatchError(ContainSubstring(".hotplug.dir")))
	})

	It("should require at least one health endpoint", func() {
		_, err := parseConfig(strings.NewReader("health:\n  listen: \"\"\n"), formatYAML)
		Expect(err).To(MatchError(ContainSubstring(".health")))
	})
})

var _ = Describe("ConfigFlag", func() {
	It("should read a file source", func() {
		path := filepath.Join(GinkgoT().TempDir(), "rc-manager.toml")
		Expect(os.WriteFile(path, []byte("[poller]\nmaxEvents = 32\n"), 0o600)).To(Succeed())

		var flag ConfigFlag
		Expect(flag.Set("file:" + path)).To(Succeed())
		Expect(flag.String()).To(Equal("file:" + path))
		Expect(flag.format()).To(Equal(formatTOML))

		reader, closer, err := flag.open()
		Expect(err).NotTo(HaveOccurred())
		defer closer()
		config, err := parseConfig(reader, flag.format())
		Expect(err).NotTo(HaveOccurred())
		Expect(config.Poller.MaxEvents).To(Equal(32))
	})

	It("should read an environment source as yaml", func() {
		GinkgoT().Setenv("RC_MANAGER_CONFIG", "sink:\n  buffer: 4\n")

		var flag ConfigFlag
		Expect(flag.Set("env:RC_MANAGER_CONFIG")).To(Succeed())
		Expect(flag.format()).To(Equal(formatYAML))

		reader, closer, err := flag.open()
		Expect(err).NotTo(HaveOccurred())
		defer closer()
		config, err := parseConfig(reader, flag.format())
		Expect(err).NotTo(HaveOccurred())
		Expect(config.Sink.Buffer).To(Equal(4))
	})

	It("should fail on an unset environment variable", func() {
		var flag ConfigFlag
		Expect(flag.Set("env:RC_MANAGER_UNSET_CONFIG")).To(Succeed())
		_, _, err := flag.open()
		Expect(err).To(HaveOccurred())
	})

	It("should accept stdin", func() {
		var flag ConfigFlag
		Expect(flag.Set("stdin")).To(Succeed())
		Expect(flag.String()).To(Equal("stdin"))
		Expect(flag.format()).To(Equal(formatYAML))
	})

	It("should document which sources are read as yaml", func() {
		Expect(configUsage).To(ContainSubstring(".toml are read as TOML"))
		Expect(configUsage).To(ContainSubstring("env and stdin are always YAML"))
	})

	It("should reject unknown sources", func() {
		var flag ConfigFlag
		Expect(flag.Set("http://example.com/config.yaml")).To(MatchError(ContainSubstring("invalid config source")))
		Expect(flag.String()).To(BeEmpty())
	})
})
