package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemStore is an in-process Store used by tests and single-node setups.
// Semantics track the Redis backend closely enough that worker and
// dispatcher logic cannot tell them apart.
type MemStore struct {
	mu      sync.Mutex
	strings map[string][]byte
	hashes  map[string]map[string][]byte
	lists   map[string][][]byte
	sets    map[string]map[string]struct{}
	expiry  map[string]time.Time
	subs    map[*memSubscription]struct{}
	closed  bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		strings: make(map[string][]byte),
		hashes:  make(map[string]map[string][]byte),
		lists:   make(map[string][][]byte),
		sets:    make(map[string]map[string]struct{}),
		expiry:  make(map[string]time.Time),
		subs:    make(map[*memSubscription]struct{}),
	}
}

// reap removes the key everywhere if its TTL has lapsed. Callers hold mu.
func (m *MemStore) reap(key string) {
	exp, ok := m.expiry[key]
	if !ok || time.Now().Before(exp) {
		return
	}
	m.deleteKey(key)
}

func (m *MemStore) deleteKey(key string) {
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.lists, key)
	delete(m.sets, key)
	delete(m.expiry, key)
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	data, ok := m.strings[key]
	if !ok {
		return nil, ErrNil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *MemStore) setLocked(key string, value []byte, ttl time.Duration) {
	data := make([]byte, len(value))
	copy(data, value)
	m.strings[key] = data
	if ttl > 0 {
		m.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *MemStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.deleteKey(key)
	}
	return nil
}

func (m *MemStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (m *MemStore) HGet(_ context.Context, key, field string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	data, ok := m.hashes[key][field]
	if !ok {
		return nil, ErrNil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	out := make(map[string][]byte, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		data := make([]byte, len(v))
		copy(data, v)
		out[f] = data
	}
	return out, nil
}

func (m *MemStore) HMGet(_ context.Context, key string, fields ...string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	out := make([][]byte, len(fields))
	for i, f := range fields {
		if v, ok := m.hashes[key][f]; ok {
			data := make([]byte, len(v))
			copy(data, v)
			out[i] = data
		}
	}
	return out, nil
}

func (m *MemStore) HSet(_ context.Context, key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hsetLocked(key, field, value)
	return nil
}

func (m *MemStore) hsetLocked(key, field string, value []byte) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		m.hashes[key] = h
	}
	data := make([]byte, len(value))
	copy(data, value)
	h[field] = data
}

func (m *MemStore) HSetNX(_ context.Context, key, field string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	if _, exists := m.hashes[key][field]; exists {
		return false, nil
	}
	m.hsetLocked(key, field, value)
	return true, nil
}

func (m *MemStore) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hdelLocked(key, fields...)
	return nil
}

func (m *MemStore) hdelLocked(key string, fields ...string) {
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
}

func (m *MemStore) HLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	return int64(len(m.hashes[key])), nil
}

func (m *MemStore) HScan(_ context.Context, key, match string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	out := make(map[string][]byte)
	for f, v := range m.hashes[key] {
		if match != "" && match != "*" {
			ok, err := path.Match(match, f)
			if err != nil || !ok {
				continue
			}
		}
		data := make([]byte, len(v))
		copy(data, v)
		out[f] = data
	}
	return out, nil
}

func (m *MemStore) RPush(_ context.Context, queue string, values ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rpushLocked(queue, values...)
	return nil
}

func (m *MemStore) rpushLocked(queue string, values ...[]byte) {
	for _, v := range values {
		data := make([]byte, len(v))
		copy(data, v)
		m.lists[queue] = append(m.lists[queue], data)
	}
}

func (m *MemStore) LPop(_ context.Context, queue string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lpopLocked(queue)
}

func (m *MemStore) lpopLocked(queue string) ([]byte, error) {
	m.reap(queue)
	list := m.lists[queue]
	if len(list) == 0 {
		return nil, ErrNil
	}
	head := list[0]
	m.lists[queue] = list[1:]
	if len(m.lists[queue]) == 0 {
		delete(m.lists, queue)
	}
	return head, nil
}

// BLPop polls the queues until a value appears, the timeout lapses, or the
// context is canceled. Zero timeout blocks until cancellation.
func (m *MemStore) BLPop(ctx context.Context, timeout time.Duration, queues ...string) (string, []byte, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		m.mu.Lock()
		for _, q := range queues {
			if data, err := m.lpopLocked(q); err == nil {
				m.mu.Unlock()
				return q, data, nil
			}
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-deadline:
			return "", nil, ErrNil
		case <-ticker.C:
		}
	}
}

func (m *MemStore) LLen(_ context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(queue)
	return int64(len(m.lists[queue])), nil
}

func (m *MemStore) LRange(_ context.Context, queue string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(queue)
	list := m.lists[queue]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range list[start : stop+1] {
		data := make([]byte, len(v))
		copy(data, v)
		out = append(out, data)
	}
	return out, nil
}

func (m *MemStore) LRem(_ context.Context, queue string, count int64, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lremLocked(queue, count, value)
	return nil
}

// lremLocked implements the count>=0 forms; NetPulse never removes from
// the tail.
func (m *MemStore) lremLocked(queue string, count int64, value []byte) {
	list := m.lists[queue]
	kept := list[:0]
	removed := int64(0)
	for _, v := range list {
		if string(v) == string(value) && (count == 0 || removed < count) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		delete(m.lists, queue)
		return
	}
	m.lists[queue] = kept
}

func (m *MemStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saddLocked(key, members...)
	return nil
}

func (m *MemStore) saddLocked(key string, members ...string) {
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
}

func (m *MemStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sremLocked(key, members...)
	return nil
}

func (m *MemStore) sremLocked(key string, members ...string) {
	for _, member := range members {
		delete(m.sets[key], member)
	}
}

func (m *MemStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemStore) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		if !sub.listensTo(channel) {
			continue
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		select {
		case sub.out <- Message{Channel: channel, Payload: data}:
		default: // slow consumer, drop
		}
	}
	return nil
}

func (m *MemStore) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	sub := &memSubscription{
		store:    m,
		channels: make(map[string]struct{}, len(channels)),
		out:      make(chan Message, 64),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}

type memSubscription struct {
	store    *MemStore
	channels map[string]struct{}
	out      chan Message
	once     sync.Once
}

func (s *memSubscription) listensTo(channel string) bool {
	_, ok := s.channels[channel]
	return ok
}

func (s *memSubscription) Messages() <-chan Message { return s.out }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s)
		s.store.mu.Unlock()
		close(s.out)
	})
	return nil
}

// memPipeline queues mutations and applies them under one lock, stopping
// at the first failure like the Redis transactional pipeline.
type memPipeline struct {
	store *MemStore
	ops   []func() error
}

func (m *MemStore) Pipeline() Pipeline {
	return &memPipeline{store: m}
}

func (p *memPipeline) Set(key string, value []byte, ttl time.Duration) {
	data := append([]byte(nil), value...)
	p.ops = append(p.ops, func() error {
		p.store.setLocked(key, data, ttl)
		return nil
	})
}

func (p *memPipeline) HSet(key, field string, value []byte) {
	data := append([]byte(nil), value...)
	p.ops = append(p.ops, func() error {
		p.store.hsetLocked(key, field, data)
		return nil
	})
}

func (p *memPipeline) HDel(key string, fields ...string) {
	p.ops = append(p.ops, func() error {
		p.store.hdelLocked(key, fields...)
		return nil
	})
}

func (p *memPipeline) SAdd(key string, members ...string) {
	p.ops = append(p.ops, func() error {
		p.store.saddLocked(key, members...)
		return nil
	})
}

func (p *memPipeline) SRem(key string, members ...string) {
	p.ops = append(p.ops, func() error {
		p.store.sremLocked(key, members...)
		return nil
	})
}

func (p *memPipeline) RPush(queue string, values ...[]byte) {
	copied := make([][]byte, len(values))
	for i, v := range values {
		copied[i] = append([]byte(nil), v...)
	}
	p.ops = append(p.ops, func() error {
		p.store.rpushLocked(queue, copied...)
		return nil
	})
}

func (p *memPipeline) LRem(queue string, count int64, value []byte) {
	data := append([]byte(nil), value...)
	p.ops = append(p.ops, func() error {
		p.store.lremLocked(queue, count, data)
		return nil
	})
}

func (p *memPipeline) Del(keys ...string) {
	p.ops = append(p.ops, func() error {
		for _, key := range keys {
			p.store.deleteKey(key)
		}
		return nil
	})
}

func (p *memPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func() error {
		p.store.expiry[key] = time.Now().Add(ttl)
		return nil
	})
}

func (p *memPipeline) Exec(context.Context) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for _, op := range p.ops {
		if err := op(); err != nil {
			return err
		}
	}
	p.ops = nil
	return nil
}

func (m *MemStore) Ping(context.Context) error { return nil }

func (m *MemStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*memSubscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
