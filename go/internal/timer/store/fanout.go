package store

import (
	"context"
	"sync"
)

// Fanout delivers values to per-key subscribers. Each subscriber channel holds at
// most one value; a newer value replaces an unread older one so slow readers only
// ever see the latest snapshot.
type Fanout[T any] struct {
	mu   sync.Mutex
	subs map[string]map[chan T]struct{}
}

// NewFanout creates an empty Fanout.
func NewFanout[T any]() *Fanout[T] {
	return &Fanout[T]{subs: make(map[string]map[chan T]struct{})}
}

// Subscribe registers a subscriber for key and queues initial as its first value.
// The channel is closed once ctx is done.
func (f *Fanout[T]) Subscribe(ctx context.Context, key string, initial T) <-chan T {
	ch := make(chan T, 1)
	ch <- initial

	f.mu.Lock()
	set, ok := f.subs[key]
	if !ok {
		set = make(map[chan T]struct{})
		f.subs[key] = set
	}
	set[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[key], ch)
		if len(f.subs[key]) == 0 {
			delete(f.subs, key)
		}
		close(ch)
	}()
	return ch
}

// Publish delivers v to every subscriber of key without blocking.
func (f *Fanout[T]) Publish(key string, v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[key] {
		offer(ch, v)
	}
}

// Keys returns the keys that currently have subscribers.
func (f *Fanout[T]) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.subs))
	for k := range f.subs {
		keys = append(keys, k)
	}
	return keys
}

// Subscribers returns the number of live subscribers for key.
func (f *Fanout[T]) Subscribers(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[key])
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
