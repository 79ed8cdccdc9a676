package broadcast

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/metrics"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/telemetry"
)

// Broadcaster is the fire-and-forget side the domain services depend on.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, data interface{}, rooms ...string)
}

type job struct {
	ctx context.Context
	msg Message
}

// Dispatcher hands messages to a Publisher off the request path. Messages are
// sharded by their first target room so every room is served by exactly one
// worker and keeps publish order. A full shard drops the message.
type Dispatcher struct {
	publisher Publisher
	shards    []chan job
	timeout   time.Duration
}

func NewDispatcher(publisher Publisher, workers, buffer int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	shards := make([]chan job, workers)
	for i := range shards {
		shards[i] = make(chan job, buffer)
	}
	return &Dispatcher{publisher: publisher, shards: shards, timeout: timeout}
}

// Broadcast encodes data and enqueues it for every room. It never blocks and
// never reports failure to the caller.
func (d *Dispatcher) Broadcast(ctx context.Context, event string, data interface{}, rooms ...string) {
	payload, err := json.Marshal(data)
	if err != nil {
		metrics.Broadcasts.WithLabelValues("failed").Inc()
		telemetry.LoggerFromContext(ctx).Error().Err(err).Str("event", event).Msg("encode broadcast payload")
		return
	}
	msg := Message{Event: event, Data: payload}
	if len(rooms) == 1 {
		msg.Room = rooms[0]
	} else {
		msg.Rooms = rooms
	}
	d.Enqueue(ctx, msg)
}

func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) bool {
	targets := msg.Targets()
	if len(targets) == 0 {
		return false
	}
	shard := d.shards[shardFor(targets[0], len(d.shards))]
	select {
	case shard <- job{ctx: context.WithoutCancel(ctx), msg: msg}:
		return true
	default:
		metrics.Broadcasts.WithLabelValues("dropped").Inc()
		telemetry.LoggerFromContext(ctx).Warn().Str("event", msg.Event).Strs("rooms", targets).Msg("broadcast queue full, event dropped")
		return false
	}
}

// Run starts one worker per shard and blocks until ctx is done. Messages
// still queued at that point get one delivery attempt before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, shard := range d.shards {
		wg.Add(1)
		go func(shard chan job) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					d.drain(shard)
					return
				case j := <-shard:
					d.deliver(j)
				}
			}
		}(shard)
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) drain(shard chan job) {
	for {
		select {
		case j := <-shard:
			d.deliver(j)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()
	if err := d.publisher.Publish(ctx, j.msg); err != nil {
		metrics.Broadcasts.WithLabelValues("failed").Inc()
		telemetry.LoggerFromContext(ctx).Warn().Err(err).Str("event", j.msg.Event).Strs("rooms", j.msg.Targets()).Msg("broadcast failed")
		return
	}
	metrics.Broadcasts.WithLabelValues("sent").Inc()
}

func shardFor(room string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return int(h.Sum32() % uint32(n))
}
