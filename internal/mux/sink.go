package mux

import (
	"errors"
)

// ErrFull is returned by a dropping sink when its buffer has no room left.
var ErrFull = errors.New("sink buffer is full")

type Sink[T any] interface {
	Submit(T) error
	Close()
}

type thenSink[U, T any] struct {
	sink      Sink[T]
	contramap func(U) T
}

func (c *thenSink[U, T]) Submit(v U) error {
	return c.sink.Submit(c.contramap(v))
}

func (c *thenSink[U, T]) Close() {
	c.sink.Close()
}

func ThenSink[U, T any](sink Sink[T], f func(U) T) Sink[U] {
	return &thenSink[U, T]{sink, f}
}

type filterSink[T any] struct {
	sink Sink[T]
	f    FilterFunc[T]
}

func (c *filterSink[T]) Submit(v T) error {
	if c.f(v) {
		return c.sink.Submit(v)
	}
	return nil
}

func (c *filterSink[T]) Close() {
	c.sink.Close()
}

func FilterSink[T any](sink Sink[T], f FilterFunc[T]) Sink[T] {
	return &filterSink[T]{sink, f}
}

type chanSink[T any] struct {
	ch chan<- T
}

func (c *chanSink[T]) Submit(v T) error {
	c.ch <- v
	return nil
}

func (c *chanSink[T]) Close() {
	close(c.ch)
}

// SinkFromChan blocks in Submit until the channel accepts the value.
func SinkFromChan[T any](ch chan<- T) Sink[T] {
	return &chanSink[T]{ch}
}

type dropSink[T any] struct {
	ch chan<- T
}

func (d *dropSink[T]) Submit(v T) error {
	select {
	case d.ch <- v:
		return nil
	default:
		return ErrFull
	}
}

func (d *dropSink[T]) Close() {
	close(d.ch)
}

// DroppingSinkFromChan never blocks: when ch is full the value is
// discarded and ErrFull returned.
func DroppingSinkFromChan[T any](ch chan<- T) Sink[T] {
	return &dropSink[T]{ch}
}

type funcSink[T any] struct {
	f func(T) error
}

func (f *funcSink[T]) Submit(v T) error {
	return f.f(v)
}

func (f *funcSink[T]) Close() {}

// SinkFunc adapts f to a Sink whose Close does nothing.
func SinkFunc[T any](f func(T) error) Sink[T] {
	return &funcSink[T]{f}
}
