// Package events fans raffle notifications out to in-process subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

const (
	metadataEvent      = "event"
	metadataOccurredAt = "occurred_at"
	metadataSequence   = "seq"
)

// AllEvents lists every notification the engine emits.
var AllEvents = []string{raffle.EventEntryRecorded, raffle.EventDrawRequested, raffle.EventWinnerPicked}

// Topic carries every notification. gochannel hands each message to
// subscribers from its own goroutine, so Subscribe restores publish order
// from the sequence metadata.
const Topic = "raffle.events"

// Envelope is a delivered notification.
type Envelope struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

var _ system.Service = (*Bus)(nil)

// Bus publishes engine notifications on an in-memory watermill pub/sub.
// Publishing never waits for subscribers.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    *logger.Logger
	seq    atomic.Uint64

	closeOnce sync.Once
}

// NewBus constructs a bus with the given per-subscriber buffer.
func NewBus(buffer int64, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDefault("events")
	}
	if buffer <= 0 {
		buffer = 64
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buffer}, NewLoggerAdapter(log))
	return &Bus{pubsub: pubsub, log: log}
}

// Publish encodes event as JSON and publishes it on the shared topic.
func (b *Bus) Publish(ctx context.Context, event raffle.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataEvent, event.EventName())
	msg.Metadata.Set(metadataOccurredAt, time.Now().UTC().Format(time.RFC3339Nano))
	msg.Metadata.Set(metadataSequence, strconv.FormatUint(b.seq.Add(1), 10))
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventName(), err)
	}
	return nil
}

// Subscribe streams the named events (all when none are given) in publish
// order until ctx is cancelled. The returned channel is closed afterwards.
func (b *Bus) Subscribe(ctx context.Context, names ...string) (<-chan Envelope, error) {
	if len(names) == 0 {
		names = AllEvents
	}
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}

	subCtx, cancel := context.WithCancel(ctx)
	messages, err := b.pubsub.Subscribe(subCtx, Topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	// Messages sequenced at or before this point were published before the
	// subscription existed and are skipped.
	next := b.seq.Load() + 1

	out := make(chan Envelope)
	go func() {
		defer close(out)
		defer cancel()
		held := make(map[uint64]Envelope)
		for msg := range messages {
			msg.Ack()
			seq, err := strconv.ParseUint(msg.Metadata.Get(metadataSequence), 10, 64)
			if err != nil || seq < next {
				continue
			}
			held[seq] = decode(msg)
			for {
				env, ok := held[next]
				if !ok {
					break
				}
				delete(held, next)
				next++
				if _, ok := wanted[env.Event]; !ok {
					continue
				}
				select {
				case out <- env:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) Name() string { return "event-bus" }

func (b *Bus) Start(context.Context) error { return nil }

func (b *Bus) Stop(context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close()
	})
	return err
}

func decode(msg *message.Message) Envelope {
	env := Envelope{
		ID:      msg.UUID,
		Event:   msg.Metadata.Get(metadataEvent),
		Payload: json.RawMessage(msg.Payload),
	}
	if at, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(metadataOccurredAt)); err == nil {
		env.OccurredAt = at
	}
	return env
}
