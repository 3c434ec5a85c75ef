package realtime

import (
	"context"
	"errors"
	"sync"
)

// Snapshot is one full state emission of a watch. Err is set when the reload failed.
type Snapshot[T any] struct {
	Value T
	Err   error
}

// Final marks a load error as terminal: the watch emits it as its last snapshot and closes.
func Final(err error) error {
	if err == nil {
		return nil
	}
	return finalError{err: err}
}

type finalError struct {
	err error
}

func (e finalError) Error() string { return e.err.Error() }

func (e finalError) Unwrap() error { return e.err }

// Loader produces the current state together with any topics the watch should follow
// in addition to its fixed ones.
type Loader[T any] func(ctx context.Context) (T, []string, error)

// Watch emits load() once and again after every event on any of topics.
// Emissions are latest-wins: a slow reader only ever sees the newest pending snapshot.
// The channel closes when ctx ends or the returned cancel runs.
func Watch[T any](ctx context.Context, broker Broker, topics []string, load func(context.Context) (T, error)) (<-chan Snapshot[T], func()) {
	return WatchDynamic(ctx, broker, topics, func(loadCtx context.Context) (T, []string, error) {
		value, err := load(loadCtx)
		return value, nil, err
	})
}

// WatchDynamic is Watch with a loader that may widen or narrow the followed topic set on
// every reload. Topics dropped from the set are unsubscribed before the snapshot is emitted.
// When a reload adds topics, the state is loaded once more so events published on them
// before the subscription existed are reflected in the emitted snapshot.
func WatchDynamic[T any](ctx context.Context, broker Broker, topics []string, load Loader[T]) (<-chan Snapshot[T], func()) {
	watchCtx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot[T], 1)
	mux := newTopicMux(watchCtx, broker)
	fixed := append([]string(nil), topics...)
	mux.retain(fixed)

	go func() {
		defer close(out)
		defer mux.close()

		emit := func() bool {
			value, extra, err := load(watchCtx)
			if err == nil && mux.retain(append(append([]string(nil), fixed...), extra...)) {
				value, extra, err = load(watchCtx)
				if err == nil {
					mux.retain(append(append([]string(nil), fixed...), extra...))
				}
			}
			var final finalError
			terminal := errors.As(err, &final)
			if terminal {
				err = final.err
			}
			select {
			case <-out:
			default:
			}
			select {
			case out <- Snapshot[T]{Value: value, Err: err}:
				return !terminal
			case <-watchCtx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-mux.signal:
				if !emit() {
					return
				}
			}
		}
	}()

	return out, cancel
}

// topicMux merges subscriptions on a changing set of topics into one coalescing signal.
type topicMux struct {
	ctx    context.Context
	broker Broker
	signal chan struct{}

	mu   sync.Mutex
	subs map[string]func()
}

func newTopicMux(ctx context.Context, broker Broker) *topicMux {
	return &topicMux{
		ctx:    ctx,
		broker: broker,
		signal: make(chan struct{}, 1),
		subs:   make(map[string]func()),
	}
}

// retain follows exactly topics and reports whether any of them was newly subscribed.
func (m *topicMux) retain(topics []string) bool {
	wanted := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if topic != "" {
			wanted[topic] = struct{}{}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for topic, stop := range m.subs {
		if _, ok := wanted[topic]; !ok {
			stop()
			delete(m.subs, topic)
		}
	}
	added := false
	for topic := range wanted {
		if _, ok := m.subs[topic]; ok {
			continue
		}
		m.subs[topic] = m.follow(topic)
		added = true
	}
	return added
}

func (m *topicMux) follow(topic string) func() {
	subCtx, cancel := context.WithCancel(m.ctx)
	stream, cleanup := m.broker.Subscribe(subCtx, topic)
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-stream:
				if !ok {
					return
				}
				select {
				case m.signal <- struct{}{}:
				default:
				}
			}
		}
	}()
	return func() {
		cancel()
		cleanup()
	}
}

func (m *topicMux) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for topic, stop := range m.subs {
		stop()
		delete(m.subs, topic)
	}
}
