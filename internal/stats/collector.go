package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/eventhub/pkg/messaging"
)

const queueGroup = "stats-collectors"

// counterStore is the slice of Redis the collector uses.
type counterStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// pointWriter is the blocking Influx write surface.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type subscriber interface {
	QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error
}

// Collector consumes registration events and maintains per-event
// counters in Redis plus a time series in InfluxDB.
type Collector struct {
	counters counterStore
	writer   pointWriter
}

// NewCollector creates a collector over the given stores. writer may be
// nil when no Influx endpoint is configured.
func NewCollector(counters counterStore, writer pointWriter) *Collector {
	return &Collector{counters: counters, writer: writer}
}

// NewInfluxWriter builds the blocking write API for the configured
// bucket. Returns the client too so callers can Close it.
func NewInfluxWriter(url, token, org, bucket string) (influxdb2.Client, api.WriteAPIBlocking) {
	client := influxdb2.NewClient(url, token)
	return client, client.WriteAPIBlocking(org, bucket)
}

// Start subscribes to registration events on a queue group so that one
// collector instance handles each message.
func (c *Collector) Start(bus subscriber) error {
	return bus.QueueSubscribe(messaging.ParticipantRegistered, queueGroup, func(msg *nats.Msg) {
		if err := c.Handle(context.Background(), msg.Data); err != nil {
			log.Printf("stats: handle %s: %v", messaging.ParticipantRegistered, err)
		}
	})
}

// Handle records a single registration event.
func (c *Collector) Handle(ctx context.Context, data []byte) error {
	var ev messaging.RegistrationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode registration event: %w", err)
	}
	if ev.EventID == 0 {
		return fmt.Errorf("registration event without event id")
	}

	if err := c.counters.Incr(ctx, counterKey(ev.EventID)).Err(); err != nil {
		return fmt.Errorf("increment counter for event %d: %w", ev.EventID, err)
	}

	if c.writer != nil {
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		point := influxdb2.NewPoint("registrations",
			map[string]string{"event_id": fmt.Sprintf("%d", ev.EventID)},
			map[string]interface{}{"user_id": ev.UserID, "count": int64(1)},
			ts,
		)
		if err := c.writer.WritePoint(ctx, point); err != nil {
			// The counter is the source of truth for reads; a lost
			// point only degrades the time series.
			log.Printf("stats: influx write for event %d: %v", ev.EventID, err)
		}
	}
	return nil
}

// EventRegistrations returns the total recorded registrations for an
// event. Unknown events read as zero.
func (c *Collector) EventRegistrations(ctx context.Context, eventID int64) (int64, error) {
	n, err := c.counters.Get(ctx, counterKey(eventID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter for event %d: %w", eventID, err)
	}
	return n, nil
}

func counterKey(eventID int64) string {
	return fmt.Sprintf("stats:event:%d:registrations", eventID)
}
