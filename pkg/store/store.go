package store

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned when a key, field, or pop target does not exist. It
// deliberately mirrors the backend's nil reply so callers distinguish
// "absent" from transport failures.
var ErrNil = errors.New("store: nil reply")

// Well-known state keys. All cluster state lives in these structures plus
// the job keys produced by JobKey.
const (
	// KeyHostToNodeMap is the hash mapping device host -> node hostname.
	// An entry exists exactly while a pinned worker serves that host.
	KeyHostToNodeMap = "host_to_node_map"

	// KeyNodeInfoMap is the hash mapping node hostname -> NodeInfo JSON.
	KeyNodeInfoMap = "node_info_map"

	// KeyWorkerInfoMap is the hash mapping worker name -> WorkerInfo JSON.
	KeyWorkerInfoMap = "worker_info_map"

	// ChannelShutdown carries worker shutdown commands. The payload is the
	// worker name, or a queue name prefixed with "queue:".
	ChannelShutdown = "netpulse:shutdown"

	// ChannelJobEvents carries job lifecycle notifications (JSON
	// queue.JobEvent payloads).
	ChannelJobEvents = "netpulse:jobs"
)

// JobKey returns the storage key of one job record.
func JobKey(id string) string { return "job:" + id }

// StatusRegistry returns the set key holding job ids in the given status.
func StatusRegistry(status string) string { return "jobs:" + status }

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live pub/sub stream. Close releases the connection and
// closes the channel returned by Messages.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Pipeline batches writes into one round trip. Exec applies them in order
// and returns the first error; queued commands after a failure are still
// attempted by the backend but their results are discarded.
type Pipeline interface {
	Set(key string, value []byte, ttl time.Duration)
	HSet(key, field string, value []byte)
	HDel(key string, fields ...string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	RPush(queue string, values ...[]byte)
	LRem(queue string, count int64, value []byte)
	Del(keys ...string)
	Expire(key string, ttl time.Duration)
	Exec(ctx context.Context) error
}

// Store is the state and queue backend shared by the controller and all
// workers. Implementations must be safe for concurrent use.
type Store interface {
	// Plain keys
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Hashes
	HGet(ctx context.Context, key, field string) ([]byte, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HMGet(ctx context.Context, key string, fields ...string) ([][]byte, error)
	HSet(ctx context.Context, key, field string, value []byte) error
	HSetNX(ctx context.Context, key, field string, value []byte) (bool, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HLen(ctx context.Context, key string) (int64, error)
	HScan(ctx context.Context, key, match string) (map[string][]byte, error)

	// Lists (queues)
	RPush(ctx context.Context, queue string, values ...[]byte) error
	LPop(ctx context.Context, queue string) ([]byte, error)
	BLPop(ctx context.Context, timeout time.Duration, queues ...string) (string, []byte, error)
	LLen(ctx context.Context, queue string) (int64, error)
	LRange(ctx context.Context, queue string, start, stop int64) ([][]byte, error)
	LRem(ctx context.Context, queue string, count int64, value []byte) error

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Pub/sub
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	Pipeline() Pipeline
	Ping(ctx context.Context) error
	Close() error
}
