package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
)

// subscriberBuffer bounds how far one subscriber may lag before it starts
// losing events.
const subscriberBuffer = 50

// Subscriber receives job lifecycle events. The channel is closed by
// Unsubscribe and when the broker stops.
type Subscriber chan *queue.JobEvent

// Broker bridges the store's job events channel to in-process
// subscribers. Transitions published by any dispatcher or worker process
// fan out to every subscriber; a subscriber that falls behind loses
// events rather than stalling the bridge.
type Broker struct {
	st     store.Store
	logger zerolog.Logger

	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}

	sub    store.Subscription
	stopCh chan struct{}
	done   chan struct{}
}

// NewBroker creates a broker reading from the given store.
func NewBroker(st store.Store) *Broker {
	return &Broker{
		st:          st,
		logger:      log.WithComponent("events"),
		subscribers: make(map[Subscriber]struct{}),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start subscribes to the store channel and begins fanning events out.
func (b *Broker) Start(ctx context.Context) error {
	sub, err := b.st.Subscribe(ctx, store.ChannelJobEvents)
	if err != nil {
		return fmt.Errorf("failed to subscribe to job events: %w", err)
	}
	b.sub = sub
	go b.run()
	return nil
}

// Stop tears down the store subscription, waits for the fan-out loop to
// drain, then closes every subscriber channel.
func (b *Broker) Stop() {
	close(b.stopCh)
	if b.sub != nil {
		_ = b.sub.Close()
	}
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = make(map[Subscriber]struct{})
}

// Subscribe registers a new subscriber channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberBuffer)
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	defer close(b.done)
	for {
		select {
		case msg, ok := <-b.sub.Messages():
			if !ok {
				return
			}
			var event queue.JobEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.Warn().Err(err).Msg("dropping malformed job event")
				continue
			}
			metrics.JobTransitionsTotal.WithLabelValues(string(event.Status)).Inc()
			b.broadcast(&event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *queue.JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip.
		}
	}
}
