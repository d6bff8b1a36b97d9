package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/feed"
	"github.com/ydb-platform/rc-manager/internal/health"
	"github.com/ydb-platform/rc-manager/internal/hotplug"
	"github.com/ydb-platform/rc-manager/internal/mux"
	"github.com/ydb-platform/rc-manager/internal/rc"
)

func main() {
	flags := initFlags()
	if err := run(flags.config); err != nil {
		klog.Errorf("rc-manager stopped: %v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func run(config *Config) error {
	resolver := &rc.Resolver{
		SysClassRc: config.Devices.SysClassRc,
		ByPathDir:  config.Devices.ByPathDir,
	}
	opener := rc.NewOpener(resolver, rc.OpenOptions{
		AppearInterval: config.Devices.AppearInterval,
		AppearTimeout:  config.Devices.AppearTimeout,
	})

	// Registry owns every grabbed receiver, it is closed once all the
	// goroutines below are gone
	registry, err := rc.NewRegistry(opener)
	if err != nil {
		return err
	}
	defer registry.Close()

	appContext, appCancel := context.WithCancel(context.Background())
	appWaitGroup := &sync.WaitGroup{}
	defer appWaitGroup.Wait()
	defer appCancel()

	// Hotplug watching starts before the initial scan so that nothing
	// created in between is missed; duplicates are ignored by the registry
	source, err := newHotplugSource(config.Hotplug)
	if err != nil {
		return err
	}
	hotplugEvents := make(chan hotplug.Event, 16)
	appWaitGroup.Add(2)
	go func() {
		defer appWaitGroup.Done()
		if err := source.Run(appContext, contextSink(appContext, hotplugEvents)); err != nil {
			klog.Errorf("hotplug source stopped: %v", err)
		}
	}()
	go func() {
		defer appWaitGroup.Done()
		rc.NewWatcher(registry, config.Hotplug.Prefix).Run(appContext, hotplugEvents)
	}()

	registry.InitialPopulate(appContext, config.Devices.LircGlob)

	hub := feed.NewHub(feed.HubConfig{})
	appWaitGroup.Add(1)
	go func() {
		defer appWaitGroup.Done()
		hub.Run(appContext)
	}()

	keystrokes := make(chan rc.TargettedKeystroke, config.Sink.Buffer)
	appWaitGroup.Add(1)
	go func() {
		defer appWaitGroup.Done()
		forwardKeystrokes(appContext, keystrokes, hub)
	}()

	poller := rc.NewPoller(
		registry,
		mux.DroppingSinkFromChan(keystrokes),
		rc.WithMaxEvents(config.Poller.MaxEvents),
		rc.WithErrorSink(failureLog()),
	)
	pollerErr := make(chan error, 1)
	appWaitGroup.Add(1)
	go func() {
		defer appWaitGroup.Done()
		klog.Info("Starting event poller")
		if err := poller.Run(appContext); err != nil {
			pollerErr <- err
		}
	}()

	healthServer := health.NewServer(registry)
	cancel := mux.ChainCancelFunc(healthServer.Watch(), appCancel)
	defer cancel()
	if config.Health.GrpcSocket != "" {
		if err := healthServer.Serve(appContext, appWaitGroup, config.Health.GrpcSocket); err != nil {
			return err
		}
	}
	var httpErr <-chan error
	if config.Health.Listen != "" {
		httpErr = serveHTTP(appContext, appWaitGroup, config.Health.Listen, healthServer, hub)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	for {
		select {
		case sig := <-sigs:
			klog.Infof("Received signal %q, shutting down", sig.String())
			return nil
		case err := <-pollerErr:
			klog.Errorf("event poller failed, shutting down: %v", err)
			return err
		case err := <-httpErr:
			klog.Errorf("HTTP server failed, shutting down: %v", err)
			return err
		}
	}
}

func newHotplugSource(config HotplugConfig) (hotplug.Source, error) {
	switch config.Source {
	case sourceUdev:
		return hotplug.NewUdevSource(hotplug.LircSubsystem), nil
	default:
		return hotplug.NewDirSource(config.Dir)
	}
}

// contextSink stops blocking on a full channel once ctx is done.
func contextSink[T any](ctx context.Context, ch chan<- T) mux.Sink[T] {
	return mux.SinkFunc(func(v T) error {
		select {
		case ch <- v:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// forwardKeystrokes is the GUI side of the keystroke channel.
func forwardKeystrokes(ctx context.Context, keystrokes <-chan rc.TargettedKeystroke, sink mux.Sink[rc.TargettedKeystroke]) {
	for {
		select {
		case ks := <-keystrokes:
			klog.V(2).Infof("key %d value %d from %s for %s", ks.Keystroke, ks.Value, ks.Source, ks.FrontendId)
			if err := sink.Submit(ks); err != nil {
				klog.Warningf("dropped key %d for %s: %v", ks.Keystroke, ks.FrontendId, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// failureLog reports devices the poller gave up on.
func failureLog() mux.Sink[rc.DeviceError] {
	return mux.ThenSink(mux.SinkFunc(func(msg string) error {
		klog.Warning(msg)
		return nil
	}), rc.DeviceError.Error)
}

// serveHTTP reports a failure to listen or serve on the returned channel.
func serveHTTP(ctx context.Context, wg *sync.WaitGroup, addr string, healthServer *health.Server, hub *feed.Hub) <-chan error {
	handler := http.NewServeMux()
	handler.HandleFunc("/healthz", healthServer.Healthz)
	handler.Handle("/keystrokes", hub)
	server := &http.Server{Addr: addr, Handler: handler}

	klog.Infof("Starting /healthz and /keystrokes server on %s", addr)
	errCh := make(chan error, 1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server on %s: %w", addr, err)
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("failed to shut down HTTP server: %v", err)
		}
	}()
	return errCh
}

const configUsage = `configuration source (in form "file:<path>", "env:<ENV_VARIABLE>" or "stdin"); ` +
	`only files ending in .toml are read as TOML, env and stdin are always YAML; defaults apply when omitted`

type FlagValues struct {
	Config ConfigFlag

	config *Config
}

func initFlags() FlagValues {
	values := FlagValues{}
	flags := flag.NewFlagSet("rc-manager", flag.ExitOnError)
	klog.InitFlags(flags)
	flags.Var(&values.Config, "config", configUsage)
	flags.Parse(os.Args[1:])

	if values.Config.configSource == nil {
		values.config = defaultConfig()
		return values
	}

	configReader, configCloser, err := values.Config.open()
	if err != nil {
		klog.Fatalf("failed to open --config %q: %v", values.Config.String(), err)
	}
	defer configCloser()

	config, err := parseConfig(configReader, values.Config.format())
	if err != nil {
		klog.Fatalf("failed to parse --config %q: %v", values.Config.String(), err)
	}

	values.config = config

	return values
}
