package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

// livenessGrace pads the heartbeat window before a worker counts as dead,
// absorbing clock skew and one delayed beat.
const livenessGrace = 5 * time.Second

// killQueuePrefix marks a shutdown payload that targets every consumer of
// a queue rather than one worker by name.
const killQueuePrefix = "queue:"

// Name derives a worker's registry identity from its node hostname and,
// for queue-dedicated workers, the queue it consumes.
func Name(hostname, queue string) string {
	if queue == "" {
		return hostname
	}
	return hostname + "_" + queue
}

// Register writes the worker's registry record.
func Register(ctx context.Context, st store.Store, info *types.WorkerInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode worker %s: %w", info.Name, err)
	}
	return st.HSet(ctx, store.KeyWorkerInfoMap, info.Name, data)
}

// Fetch loads one worker record by name.
func Fetch(ctx context.Context, st store.Store, name string) (*types.WorkerInfo, error) {
	data, err := st.HGet(ctx, store.KeyWorkerInfoMap, name)
	if errors.Is(err, store.ErrNil) {
		return nil, errdefs.NotFoundf("worker %s", name)
	}
	if err != nil {
		return nil, err
	}
	var info types.WorkerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode worker %s: %w", name, err)
	}
	return &info, nil
}

// List returns every registered worker, dead ones included, sorted by
// name.
func List(ctx context.Context, st store.Store) ([]*types.WorkerInfo, error) {
	entries, err := st.HGetAll(ctx, store.KeyWorkerInfoMap)
	if err != nil {
		return nil, err
	}
	out := make([]*types.WorkerInfo, 0, len(entries))
	for name, data := range entries {
		var info types.WorkerInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("failed to decode worker %s: %w", name, err)
		}
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes worker records outright. Used by cleanup paths; workers
// exiting cleanly keep their record and stamp a death date instead.
func Remove(ctx context.Context, st store.Store, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	return st.HDel(ctx, store.KeyWorkerInfoMap, names...)
}

// Alive reports whether a worker can still be trusted with jobs. A busy
// worker gets the larger of the job timeout and its own liveness window,
// since a legitimate long job may delay its state flip.
func Alive(info *types.WorkerInfo, jobTimeout, workerTTL time.Duration, now time.Time) bool {
	if info == nil || info.DeathDate != nil {
		return false
	}
	window := workerTTL
	if info.State == types.WorkerStateBusy && jobTimeout > window {
		window = jobTimeout
	}
	return now.Sub(info.LastHeartbeat) <= window+livenessGrace
}

// AliveOnQueue reports whether any live worker consumes the queue.
func AliveOnQueue(ctx context.Context, st store.Store, queue string, jobTimeout, workerTTL time.Duration) (bool, error) {
	workers, err := List(ctx, st)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	for _, w := range workers {
		if w.ConsumesQueue(queue) && Alive(w, jobTimeout, workerTTL, now) {
			return true, nil
		}
	}
	return false, nil
}

// SendShutdown publishes a shutdown command for one worker by name.
func SendShutdown(ctx context.Context, st store.Store, name string) error {
	return st.Publish(ctx, store.ChannelShutdown, []byte(name))
}

// SendQueueShutdown publishes a shutdown command for every consumer of
// the queue.
func SendQueueShutdown(ctx context.Context, st store.Store, queue string) error {
	return st.Publish(ctx, store.ChannelShutdown, []byte(killQueuePrefix+queue))
}

// matchesShutdown reports whether a shutdown payload targets a worker
// with the given name and queues.
func matchesShutdown(payload, name string, queues []string) bool {
	if payload == name {
		return true
	}
	q, ok := strings.CutPrefix(payload, killQueuePrefix)
	if !ok {
		return false
	}
	for _, own := range queues {
		if own == q {
			return true
		}
	}
	return false
}

// SaveNodeInfo writes a node's capacity record.
func SaveNodeInfo(ctx context.Context, st store.Store, info *types.NodeInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode node %s: %w", info.Hostname, err)
	}
	return st.HSet(ctx, store.KeyNodeInfoMap, info.Hostname, data)
}

// FetchNodeInfo loads one node's capacity record.
func FetchNodeInfo(ctx context.Context, st store.Store, hostname string) (*types.NodeInfo, error) {
	data, err := st.HGet(ctx, store.KeyNodeInfoMap, hostname)
	if errors.Is(err, store.ErrNil) {
		return nil, errdefs.NotFoundf("node %s", hostname)
	}
	if err != nil {
		return nil, err
	}
	var info types.NodeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", hostname, err)
	}
	return &info, nil
}

// ListNodeInfos returns every registered node sorted by hostname, the
// shape scheduler plugins take.
func ListNodeInfos(ctx context.Context, st store.Store) ([]types.NodeInfo, error) {
	entries, err := st.HGetAll(ctx, store.KeyNodeInfoMap)
	if err != nil {
		return nil, err
	}
	out := make([]types.NodeInfo, 0, len(entries))
	for hostname, data := range entries {
		var info types.NodeInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("failed to decode node %s: %w", hostname, err)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}
