// Package stream mirrors persisted audit entries to a Kafka topic for
// downstream compliance consumers. The durable postgres row is the source of
// truth; this mirror is fire-and-forget and is never consulted by the core.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"katha/internal/audit"
)

// defaultBuffer bounds how many entries may wait for the producer before new
// ones are dropped. Dropping is acceptable here; the ledger row is durable.
const defaultBuffer = 1024

// clientFlushTimeout bounds the final flush during shutdown.
const clientFlushTimeout = 5 * time.Second

// Publisher buffers appended entries and produces them to Kafka from a
// single background goroutine.
type Publisher struct {
	client *kgo.Client
	topic  string
	inbox  chan *audit.Entry
	logger *slog.Logger
}

// New connects a producer to the given brokers. brokers is a comma-separated
// seed list.
func New(brokers, topic string, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		client: client,
		topic:  topic,
		inbox:  make(chan *audit.Entry, defaultBuffer),
		logger: logger,
	}, nil
}

// EntryAppended implements audit.Streamer. Non-blocking: when the buffer is
// full the entry is dropped and counted in logs rather than stalling the
// ledger append path.
func (p *Publisher) EntryAppended(e *audit.Entry) {
	select {
	case p.inbox <- e:
	default:
		p.logger.Warn("audit stream buffer full, entry dropped",
			"sequence_id", e.SequenceID,
			"action", string(e.Action),
		)
	}
}

// Run drains the inbox until the context is cancelled, then flushes and
// closes the client.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.client.Close()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), clientFlushTimeout)
			defer cancel()
			_ = p.client.Flush(flushCtx)
			return ctx.Err()
		case entry := <-p.inbox:
			p.produce(ctx, entry)
		}
	}
}

func (p *Publisher) produce(ctx context.Context, entry *audit.Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		p.logger.Error("audit stream marshal failed",
			"sequence_id", entry.SequenceID,
			"error", err,
		)
		return
	}

	record := &kgo.Record{
		Key:   []byte(strconv.FormatInt(entry.SequenceID, 10)),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("audit stream produce failed",
				"sequence_id", entry.SequenceID,
				"error", err,
			)
		}
	})
}
