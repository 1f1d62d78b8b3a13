// Package kafkasrc implements an optional Kafka-backed EntityStream
// source: an alternative to a synchronous CLI feed for the Ingester,
// consuming a single entity-change topic and decoding each message into
// a (dataset, model.Entity) pair.
package kafkasrc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/openaleph/search-core/pkg/model"
)

// Config configures the consumer. Brokers/GroupID/Topic are required;
// the rest mirror the teacher's consumer defaults.
type Config struct {
	Brokers        []string
	GroupID        string
	Topic          string
	MinBytes       int
	MaxBytes       int
	MaxWait        time.Duration
	CommitInterval time.Duration
	StartOffset    int64
}

func DefaultConfig(brokers []string, groupID, topic string) Config {
	return Config{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	}
}

// Message is one decoded entity-change event.
type Message struct {
	Dataset string
	Entity  model.Entity
	// Delete, when true, means the entity was tombstoned and the
	// Ingester should emit a delete action rather than an index one.
	Delete bool
}

// envelope is the wire shape a producer publishes: a thin JSON wrapper
// around model.Entity since Entity itself carries no dataset field.
type envelope struct {
	Dataset string `json:"dataset"`
	Delete  bool   `json:"delete"`
	Entity  struct {
		ID         string              `json:"id"`
		Schema     string              `json:"schema"`
		Properties map[string][]string `json:"properties"`
		Context    struct {
			RoleID    []string    `json:"role_id"`
			ProfileID []string    `json:"profile_id"`
			Mutable   bool        `json:"mutable"`
			CreatedAt []time.Time `json:"created_at"`
			UpdatedAt []time.Time `json:"updated_at"`
			Tags      []string    `json:"tags"`
			Origin    []string    `json:"origin"`
		} `json:"context"`
	} `json:"entity"`
}

// Source reads entity-change events from Kafka.
type Source struct {
	cfg    Config
	reader *kafka.Reader
}

func New(cfg Config) *Source {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    []string{cfg.Topic},
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    cfg.StartOffset,
	})
	return &Source{cfg: cfg, reader: reader}
}

// Run fetches messages until ctx is canceled, decoding and forwarding
// each to out. A message that fails to decode is logged and committed
// rather than retried forever (a poison message would otherwise wedge
// the consumer group).
func (s *Source) Run(ctx context.Context, out chan<- Message) error {
	slog.InfoContext(ctx, "starting kafka entity stream", "group_id", s.cfg.GroupID, "topic", s.cfg.Topic)

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.ErrorContext(ctx, "fetch message failed", "error", err)
			continue
		}

		m, decodeErr := decode(msg.Value)
		if decodeErr != nil {
			slog.ErrorContext(ctx, "dropping undecodable entity-stream message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", decodeErr)
			_ = s.reader.CommitMessages(ctx, msg)
			continue
		}

		select {
		case out <- m:
		case <-ctx.Done():
			return nil
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "commit failed", "error", err)
		}
	}
}

func decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, err
	}
	if env.Entity.ID == "" || env.Entity.Schema == "" {
		return Message{}, fmt.Errorf("entity envelope missing id or schema")
	}
	return Message{
		Dataset: env.Dataset,
		Delete:  env.Delete,
		Entity: model.Entity{
			ID:         env.Entity.ID,
			Schema:     env.Entity.Schema,
			Properties: env.Entity.Properties,
			Context: model.EntityContext{
				RoleID:    env.Entity.Context.RoleID,
				ProfileID: env.Entity.Context.ProfileID,
				Mutable:   env.Entity.Context.Mutable,
				CreatedAt: env.Entity.Context.CreatedAt,
				UpdatedAt: env.Entity.Context.UpdatedAt,
				Tags:      env.Entity.Context.Tags,
				Origin:    env.Entity.Context.Origin,
			},
		},
	}, nil
}

// Close stops the reader.
func (s *Source) Close() error {
	return s.reader.Close()
}

// HealthCheck dials the first configured broker and requests its API
// versions, confirming the cluster is reachable.
func (s *Source) HealthCheck(ctx context.Context) error {
	if len(s.cfg.Brokers) == 0 {
		return fmt.Errorf("kafkasrc: no brokers configured")
	}
	dialer := &kafka.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafkasrc: dial %s: %w", s.cfg.Brokers[0], err)
	}
	defer conn.Close()
	if _, err := conn.ApiVersions(); err != nil {
		return fmt.Errorf("kafkasrc: api versions: %w", err)
	}
	return nil
}
