package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquiz/bigbrain/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber only receives the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("session.started"),
						eventWithName("session.ended"),
					},
					subscribers: []subscriber{
						{
							name:        "archiver",
							subscribeTo: []string{"session.ended"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("session.ended")}, out.received["archiver"])
			},
		},

		"a subscriber receives every publication of its event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("answer.accepted"),
						eventWithName("answer.accepted"),
						eventWithName("answer.accepted"),
					},
					subscribers: []subscriber{
						{
							name:        "notifier",
							subscribeTo: []string{"answer.accepted"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["notifier"], 3)
			},
		},

		"an event fans out to all its subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("session.ended"),
					},
					subscribers: []subscriber{
						{
							name:        "archiver",
							subscribeTo: []string{"session.ended"},
						},
						{
							name:        "notifier",
							subscribeTo: []string{"session.ended"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("session.ended")}, out.received["archiver"])
				assert.ElementsMatch(t, []event.Event{eventWithName("session.ended")}, out.received["notifier"])
			},
		},

		"mixed events route independently": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("session.started"),
						eventWithName("session.advanced"),
						eventWithName("session.advanced"),
						eventWithName("session.ended"),
					},
					subscribers: []subscriber{
						{
							name:        "archiver",
							subscribeTo: []string{"session.ended"},
						},
						{
							name:        "notifier",
							subscribeTo: []string{"session.advanced", "session.ended"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("session.ended")}, out.received["archiver"])
				assert.ElementsMatch(t, []event.Event{
					eventWithName("session.advanced"),
					eventWithName("session.advanced"),
					eventWithName("session.ended"),
				}, out.received["notifier"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerFailuresNeverReachPublisher(t *testing.T) {
	b := event.NewBus()

	var calls atomic.Int32
	b.Subscribe("session.ended", func(ctx context.Context, e event.Event) error {
		calls.Add(1)
		return errors.New("archive unavailable")
	})
	b.Subscribe("session.ended", func(ctx context.Context, e event.Event) error {
		calls.Add(1)
		panic("boom")
	})
	b.Subscribe("session.ended", func(ctx context.Context, e event.Event) error {
		calls.Add(1)
		return nil
	})

	require.NotPanics(t, func() {
		b.Publish(context.Background(), eventWithName("session.ended"))
		b.Stop()
	})
	require.EqualValues(t, 3, calls.Load())
}

func TestBus_HandlerOutlivesPublisherContext(t *testing.T) {
	b := event.NewBus()

	done := make(chan struct{})
	b.Subscribe("session.ended", func(ctx context.Context, e event.Event) error {
		defer close(done)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	b.Publish(ctx, eventWithName("session.ended"))
	cancel()

	b.Stop()
	select {
	case <-done:
	default:
		t.Fatal("handler never ran")
	}
}

func TestBus_PoolBoundsConcurrency(t *testing.T) {
	b := event.NewBus(event.WithPoolSize(2), event.WithHandlerTimeout(time.Second))

	var running, peak atomic.Int32
	for i := 0; i < 4; i++ {
		b.Subscribe("answer.accepted", func(ctx context.Context, e event.Event) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}

	b.Publish(context.Background(), eventWithName("answer.accepted"))
	b.Stop()

	require.LessOrEqual(t, peak.Load(), int32(2))
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
