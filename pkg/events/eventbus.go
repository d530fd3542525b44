package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventType represents the type of event
type EventType string

const (
	DocumentUploadedEvent EventType = "document.uploaded"
	DocumentIngestedEvent EventType = "document.ingested"
	DocumentFailedEvent   EventType = "document.failed"
	SessionCreatedEvent   EventType = "session.created"
	SessionExpiredEvent   EventType = "session.expired"
)

// Event represents a pipeline event
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Source        string                 `json:"source"`
	Timestamp     time.Time              `json:"timestamp"`
	SessionID     string                 `json:"session_id,omitempty"`
	DocumentID    string                 `json:"document_id,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Version       string                 `json:"version"`
}

// EventHandler handles delivered events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to EventHandler
type HandlerFunc func(ctx context.Context, event *Event) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, event *Event) error { return f(ctx, event) }

// Publisher is the narrow interface services depend on
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// EventBus publishes events and dispatches them to subscribers
type EventBus interface {
	Publisher
	Subscribe(eventType EventType, handler EventHandler)
	Start(ctx context.Context) error
	Stop() error
}

func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Version == "" {
		event.Version = "1.0"
	}
}

// EventConfig holds event bus configuration
type EventConfig struct {
	StreamPrefix  string        `json:"stream_prefix"`
	ConsumerGroup string        `json:"consumer_group"`
	ConsumerName  string        `json:"consumer_name"`
	BatchSize     int           `json:"batch_size" validate:"min=1,max=100"`
	BlockTimeout  time.Duration `json:"block_timeout" validate:"min=1s"`
	MaxLen        int64         `json:"max_len"`
}

// DefaultEventConfig returns default event configuration
func DefaultEventConfig() *EventConfig {
	return &EventConfig{
		StreamPrefix:  "rag:events",
		ConsumerGroup: "rag-ingest",
		ConsumerName:  "rag-ingest-1",
		BatchSize:     10,
		BlockTimeout:  5 * time.Second,
		MaxLen:        10000,
	}
}

// RedisEventBus implements EventBus using Redis Streams, one stream per
// event type.
type RedisEventBus struct {
	client   redis.UniversalClient
	config   *EventConfig
	logger   zerolog.Logger
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRedisEventBus creates an event bus over an existing client
func NewRedisEventBus(client redis.UniversalClient, config *EventConfig, logger zerolog.Logger) *RedisEventBus {
	if config == nil {
		config = DefaultEventConfig()
	}
	return &RedisEventBus{
		client:   client,
		config:   config,
		logger:   logger.With().Str("component", "event_bus").Logger(),
		handlers: make(map[EventType][]EventHandler),
	}
}

func (b *RedisEventBus) stream(eventType EventType) string {
	return b.config.StreamPrefix + ":" + string(eventType)
}

// Publish appends the event to its stream
func (b *RedisEventBus) Publish(ctx context.Context, event *Event) error {
	stamp(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	streamName := b.stream(event.Type)
	args := &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"data":       string(data),
		},
	}
	if b.config.MaxLen > 0 {
		args.MaxLen = b.config.MaxLen
		args.Approx = true
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		b.logger.Error().Err(err).
			Str("event_id", event.ID).
			Str("stream", streamName).
			Msg("Failed to publish event")
		return fmt.Errorf("publish to stream: %w", err)
	}

	b.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Msg("Event published")
	return nil
}

// Subscribe registers a handler. Handlers must be registered before Start.
func (b *RedisEventBus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Start creates consumer groups and starts one consumer per subscribed type
func (b *RedisEventBus) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for eventType := range b.handlers {
		if err := b.createConsumerGroup(ctx, eventType); err != nil {
			return err
		}
		b.wg.Add(1)
		go b.consumeEvents(ctx, eventType)
	}

	b.logger.Info().Int("event_types", len(b.handlers)).Msg("Event bus started")
	return nil
}

// Stop stops consumers. The Redis client is owned by the caller.
func (b *RedisEventBus) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info().Msg("Event bus stopped")
	return nil
}

func (b *RedisEventBus) createConsumerGroup(ctx context.Context, eventType EventType) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream(eventType), b.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (b *RedisEventBus) consumeEvents(ctx context.Context, eventType EventType) {
	defer b.wg.Done()
	streamName := b.stream(eventType)

	for ctx.Err() == nil {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.config.ConsumerGroup,
			Consumer: b.config.ConsumerName,
			Streams:  []string{streamName, ">"},
			Count:    int64(b.config.BatchSize),
			Block:    b.config.BlockTimeout,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				b.logger.Error().Err(err).Str("stream", streamName).Msg("Failed to read from stream")
				time.Sleep(time.Second)
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := b.processMessage(ctx, eventType, message); err != nil {
					b.logger.Error().Err(err).
						Str("message_id", message.ID).
						Str("stream", streamName).
						Msg("Failed to process message")
					continue
				}
				b.client.XAck(ctx, streamName, b.config.ConsumerGroup, message.ID)
			}
		}
	}
}

func (b *RedisEventBus) processMessage(ctx context.Context, eventType EventType, message redis.XMessage) error {
	raw, ok := message.Values["data"].(string)
	if !ok {
		return fmt.Errorf("invalid event data format")
	}

	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	return dispatch(ctx, handlers, &event)
}

func dispatch(ctx context.Context, handlers []EventHandler, event *Event) error {
	for _, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			return fmt.Errorf("handler %T: %w", handler, err)
		}
	}
	return nil
}

// LocalBus delivers events synchronously in process. It is used when Redis
// is not configured and in tests.
type LocalBus struct {
	logger   zerolog.Logger
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	history  []Event
}

// NewLocalBus creates an in-process event bus
func NewLocalBus(logger zerolog.Logger) *LocalBus {
	return &LocalBus{
		logger:   logger.With().Str("component", "event_bus").Logger(),
		handlers: make(map[EventType][]EventHandler),
	}
}

// Publish records the event and runs its handlers. Handler errors are
// logged, not returned.
func (b *LocalBus) Publish(ctx context.Context, event *Event) error {
	stamp(event)

	b.mu.Lock()
	b.history = append(b.history, *event)
	handlers := append([]EventHandler(nil), b.handlers[event.Type]...)
	b.mu.Unlock()

	if err := dispatch(ctx, handlers, event); err != nil {
		b.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Event handler failed")
	}
	return nil
}

// Subscribe registers a handler
func (b *LocalBus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Start is a no-op for the local bus
func (b *LocalBus) Start(context.Context) error { return nil }

// Stop is a no-op for the local bus
func (b *LocalBus) Stop() error { return nil }

// Events returns the published events of the given type, oldest first
func (b *LocalBus) Events(eventType EventType) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.history {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// NewDocumentIngestedEvent creates a document.ingested event
func NewDocumentIngestedEvent(source, sessionID, documentID string, chunkCount int, model string) *Event {
	return &Event{
		Type:       DocumentIngestedEvent,
		Source:     source,
		SessionID:  sessionID,
		DocumentID: documentID,
		Data: map[string]interface{}{
			"chunk_count":     chunkCount,
			"embedding_model": model,
		},
	}
}

// NewDocumentFailedEvent creates a document.failed event
func NewDocumentFailedEvent(source, sessionID, documentID string, err error) *Event {
	return &Event{
		Type:       DocumentFailedEvent,
		Source:     source,
		SessionID:  sessionID,
		DocumentID: documentID,
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	}
}

// NewSessionEvent creates a session lifecycle event
func NewSessionEvent(eventType EventType, source, sessionID, reason string) *Event {
	return &Event{
		Type:      eventType,
		Source:    source,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"reason": reason,
		},
	}
}
