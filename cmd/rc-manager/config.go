package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ydb-platform/rc-manager/internal/rc"
)

const (
	sourceFsnotify = "fsnotify"
	sourceUdev     = "udev"

	maxPollerEvents = 1024
)

type configFormat int

const (
	formatYAML configFormat = iota
	formatTOML
)

type configSource interface {
	String() string
	open() (io.Reader, func() error, error)
	format() configFormat
}

type fileConfigSource struct {
	path string
}

func (fcs *fileConfigSource) open() (io.Reader, func() error, error) {
	file, err := os.Open(fcs.path)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}

func (fcs *fileConfigSource) format() configFormat {
	if strings.HasSuffix(fcs.path, ".toml") {
		return formatTOML
	}
	return formatYAML
}

func (fcs *fileConfigSource) String() string {
	return "file:" + fcs.path
}

type envConfigSource struct {
	variable string
}

func (ecs *envConfigSource) open() (io.Reader, func() error, error) {
	data := os.Getenv(ecs.variable)
	if data == "" {
		return nil, nil, fmt.Errorf("config: environment variable %s is not set", ecs.variable)
	}
	return strings.NewReader(data), func() error { return nil }, nil
}

func (ecs *envConfigSource) format() configFormat {
	return formatYAML
}

func (ecs *envConfigSource) String() string {
	return "env:" + ecs.variable
}

type stdinConfigSource struct{}

func (scs *stdinConfigSource) open() (io.Reader, func() error, error) {
	return os.Stdin, func() error { return nil }, nil
}

func (scs *stdinConfigSource) format() configFormat {
	return formatYAML
}

func (scs *stdinConfigSource) String() string {
	return "stdin"
}

type ConfigFlag struct {
	configSource
}

func (cf *ConfigFlag) Set(value string) error {
	if strings.HasPrefix(value, "file:") {
		cf.configSource = &fileConfigSource{path: strings.TrimPrefix(value, "file:")}
	} else if strings.HasPrefix(value, "env:") {
		cf.configSource = &envConfigSource{variable: strings.TrimPrefix(value, "env:")}
	} else if value == "stdin" {
		cf.configSource = &stdinConfigSource{}
	} else {
		return fmt.Errorf("invalid config source: %s", value)
	}

	return nil
}

func (cf *ConfigFlag) String() string {
	if cf.configSource == nil {
		return ""
	}
	return cf.configSource.String()
}

type DevicesConfig struct {
	LircGlob       string        `yaml:"lircGlob" toml:"lircGlob"`
	SysClassRc     string        `yaml:"sysClassRc" toml:"sysClassRc"`
	ByPathDir      string        `yaml:"byPathDir" toml:"byPathDir"`
	AppearInterval time.Duration `yaml:"appearInterval" toml:"appearInterval"` // how often a missing event file is looked for
	AppearTimeout  time.Duration `yaml:"appearTimeout" toml:"appearTimeout"`
}

func (dc *DevicesConfig) validate(path string) error {
	var errs error
	if dc.LircGlob == "" {
		errs = errors.Join(errs, fmt.Errorf("%s.lircGlob: must be set", path))
	}
	if dc.SysClassRc == "" {
		errs = errors.Join(errs, fmt.Errorf("%s.sysClassRc: must be set", path))
	}
	if dc.ByPathDir == "" {
		errs = errors.Join(errs, fmt.Errorf("%s.byPathDir: must be set", path))
	}
	if dc.AppearInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("%s.appearInterval: %s must be positive", path, dc.AppearInterval))
	}
	if dc.AppearTimeout <= 0 {
		errs = errors.Join(errs, fmt.Errorf("%s.appearTimeout: %s must be positive", path, dc.AppearTimeout))
	}
	return errs
}

type HotplugConfig struct {
	Source string `yaml:"source" toml:"source"` // fsnotify or udev
	Dir    string `yaml:"dir" toml:"dir"`       // watched by the fsnotify source only
	Prefix string `yaml:"prefix" toml:"prefix"`
}

func (hc *HotplugConfig) validate(path string) error {
	var errs error
	switch hc.Source {
	case sourceFsnotify:
		if hc.Dir == "" {
			errs = errors.Join(errs, fmt.Errorf("%s.dir: must be set for source %q", path, sourceFsnotify))
		}
	case sourceUdev:
	default:
		errs = errors.Join(errs, fmt.Errorf("%s.source: %q must be one of %q, %q", path, hc.Source, sourceFsnotify, sourceUdev))
	}
	if hc.Prefix == "" {
		errs = errors.Join(errs, fmt.Errorf("%s.prefix: must be set", path))
	}
	return errs
}

type PollerConfig struct {
	MaxEvents int `yaml:"maxEvents" toml:"maxEvents"`
}

type SinkConfig struct {
	Buffer int `yaml:"buffer" toml:"buffer"`
}

type HealthConfig struct {
	Listen     string `yaml:"listen" toml:"listen"`
	GrpcSocket string `yaml:"grpcSocket" toml:"grpcSocket"` // empty disables grpc health
}

type Config struct {
	Devices DevicesConfig `yaml:"devices" toml:"devices"`
	Hotplug HotplugConfig `yaml:"hotplug" toml:"hotplug"`
	Poller  PollerConfig  `yaml:"poller" toml:"poller"`
	Sink    SinkConfig    `yaml:"sink" toml:"sink"`
	Health  HealthConfig  `yaml:"health" toml:"health"`
}

func defaultConfig() *Config {
	return &Config{
		Devices: DevicesConfig{
			LircGlob:       rc.DefaultLircGlob,
			SysClassRc:     rc.DefaultSysClassRc,
			ByPathDir:      rc.DefaultByPathDir,
			AppearInterval: rc.DefaultAppearInterval,
			AppearTimeout:  30 * time.Second,
		},
		Hotplug: HotplugConfig{
			Source: sourceFsnotify,
			Dir:    "/dev",
			Prefix: rc.DefaultLircPrefix,
		},
		Poller: PollerConfig{
			MaxEvents: rc.DefaultMaxEvents,
		},
		Sink: SinkConfig{
			Buffer: 256,
		},
		Health: HealthConfig{
			Listen: ":8080",
		},
	}
}

func (c *Config) validate() error {
	var errs error
	errs = errors.Join(errs, c.Devices.validate(".devices"))
	errs = errors.Join(errs, c.Hotplug.validate(".hotplug"))
	if c.Poller.MaxEvents < 1 || c.Poller.MaxEvents > maxPollerEvents {
		errs = errors.Join(errs, fmt.Errorf(".poller.maxEvents: %d must be within 1..%d", c.Poller.MaxEvents, maxPollerEvents))
	}
	if c.Sink.Buffer < 1 {
		errs = errors.Join(errs, fmt.Errorf(".sink.buffer: %d must be at least 1", c.Sink.Buffer))
	}
	if c.Health.Listen == "" && c.Health.GrpcSocket == "" {
		errs = errors.Join(errs, fmt.Errorf(".health: at least one of listen and grpcSocket must be set"))
	}
	return errs
}

// parseConfig overlays the document read from reader on the defaults. An
// empty document yields the defaults.
func parseConfig(reader io.Reader, format configFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	config := defaultConfig()
	switch format {
	case formatTOML:
		meta, err := toml.Decode(string(data), config)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys %v", undecoded)
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}
