package mux

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

type logger interface {
	Info(format string, args ...interface{})
}

type klogLogger struct{}

func (klogLogger) Info(format string, args ...interface{}) {
	klog.InfofDepth(2, format, args...)
}

type awaitDone[T any] struct {
	value T
	done  chan struct{}
}

func newAwaitDone[T any](value T) awaitDone[T] {
	return awaitDone[T]{
		value: value,
		done:  make(chan struct{}),
	}
}

func (a awaitDone[T]) Done() {
	close(a.done)
}

func (a awaitDone[T]) Wait() {
	<-a.done
}

type Source[T any] interface {
	Subscribe(Sink[T]) CancelFunc
}

// Mux fans every submitted value out to all subscribed sinks. Sinks are
// fed from a single goroutine, in submission order.
type Mux[T any] struct {
	input      chan T
	register   chan awaitDone[Sink[T]]
	unregister chan awaitDone[Sink[T]]
	outputs    map[Sink[T]]bool
	stopped    chan struct{}

	submitTimeout time.Duration
	inBufSize     int
	logger        logger
}

type Option[T any] interface {
	apply(*Mux[T])
}

type buffered[T any] struct {
	Size int
}

func (b *buffered[T]) apply(m *Mux[T]) {
	m.inBufSize = b.Size
}

func Buffered[T any](size int) Option[T] {
	return &buffered[T]{size}
}

type withSubmitTimeout[T any] struct {
	Timeout time.Duration
}

func (s *withSubmitTimeout[T]) apply(m *Mux[T]) {
	m.submitTimeout = s.Timeout
}

func WithSubmitTimeout[T any](timeout time.Duration) Option[T] {
	return &withSubmitTimeout[T]{timeout}
}

func Make[T any](opts ...Option[T]) *Mux[T] {
	mux := &Mux[T]{
		submitTimeout: 1 * time.Second,
		logger:        klogLogger{},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(mux)
	}

	mux.input = make(chan T, mux.inBufSize)
	mux.register = make(chan awaitDone[Sink[T]])
	mux.unregister = make(chan awaitDone[Sink[T]])
	mux.outputs = make(map[Sink[T]]bool)
	mux.stopped = make(chan struct{})

	go mux.run()

	return mux
}

func (m *Mux[T]) run() {
	defer close(m.stopped)
	defer func() {
		for sub := range m.outputs {
			delete(m.outputs, sub)
			sub.Close()
		}
	}()

	for {
		select {
		case v := <-m.input:
			m.fanOut(v)
		case ar, ok := <-m.register:
			if !ok {
				m.drain()
				return
			}
			m.outputs[ar.value] = true
			ar.Done()
		case ar := <-m.unregister:
			sub := ar.value
			if m.outputs[sub] {
				delete(m.outputs, sub)
				sub.Close()
			}
			ar.Done()
		}
	}
}

// drain delivers whatever is still buffered once the mux is closed.
func (m *Mux[T]) drain() {
	for {
		select {
		case v := <-m.input:
			m.fanOut(v)
		default:
			return
		}
	}
}

func (m *Mux[T]) fanOut(v T) {
	for out := range m.outputs {
		if err := out.Submit(v); err != nil {
			m.error("error submitting value %v: %v", v, err)
		}
	}
}

func (m *Mux[T]) error(format string, args ...any) error {
	if m.logger != nil {
		m.logger.Info(format, args...)
	}
	return fmt.Errorf(format, args...)
}

// Close stops the mux and closes every subscribed sink. Subscribe and
// Submit must not be called afterwards.
func (m *Mux[T]) Close() {
	close(m.register)
}

func (m *Mux[T]) Submit(v T) error {
	timer := time.NewTimer(m.submitTimeout)
	defer timer.Stop()
	select {
	case m.input <- v:
		return nil
	case <-m.stopped:
		return m.error("mux is closed, dropping value %v", v)
	case <-timer.C:
		return m.error("timed out submitting value %v after %s", v, m.submitTimeout)
	}
}

type CancelFunc func()

func (m *Mux[T]) Subscribe(sink Sink[T]) CancelFunc {
	ar := newAwaitDone(sink)
	m.register <- ar
	ar.Wait()

	return func() {
		ar := newAwaitDone(sink)
		select {
		case m.unregister <- ar:
			ar.Wait()
		case <-m.stopped:
		}
	}
}

func ChainCancelFunc(cf1, cf2 func(), cfs ...func()) CancelFunc {
	return func() {
		cf1()
		cf2()
		for _, cf := range cfs {
			if cf != nil {
				cf()
			}
		}
	}
}
