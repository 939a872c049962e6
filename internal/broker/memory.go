package broker

import (
	"context"
	"path"
	"sync"
	"time"
)

// Memory is an in-process Broker used by tests and single-node
// development setups. It mirrors the semantics the Redis implementation
// provides: per-channel publish order, blocking list pops with timeout,
// and glob-style key matching.
type Memory struct {
	mu       sync.Mutex
	hashes   map[string]map[string][]byte
	counters map[string]int64
	lists    map[string][][]byte
	subs     map[string][]*memorySubscription
	listWait chan struct{}
	closed   bool
}

// NewMemory returns an empty in-memory broker.
func NewMemory() *Memory {
	return &Memory{
		hashes:   make(map[string]map[string][]byte),
		counters: make(map[string]int64),
		lists:    make(map[string][][]byte),
		subs:     make(map[string][]*memorySubscription),
		listWait: make(chan struct{}),
	}
}

func (m *Memory) HSet(ctx context.Context, key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		m.hashes[key] = h
	}
	h[field] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) HGet(ctx context.Context, key, field string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) HDel(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	if len(m.hashes[key]) == 0 {
		delete(m.hashes, key)
	}
	return nil
}

func (m *Memory) HKeys(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields := make([]string, 0, len(m.hashes[key]))
	for f := range m.hashes[key] {
		fields = append(fields, f)
	}
	return fields, nil
}

func (m *Memory) HExists(ctx context.Context, key, field string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hashes[key][field]
	return ok, nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *Memory) RPush(ctx context.Context, key string, values ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.lists[key] = append(m.lists[key], append([]byte(nil), v...))
	}
	// Wake all blocked poppers.
	close(m.listWait)
	m.listWait = make(chan struct{})
	return nil
}

func (m *Memory) BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if l := m.lists[key]; len(l) > 0 {
			head := l[0]
			if len(l) == 1 {
				delete(m.lists, key)
			} else {
				m.lists[key] = l[1:]
			}
			m.mu.Unlock()
			return head, true, nil
		}
		wait := m.listWait
		m.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
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
	for _, v := range l[start : stop+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.hashes, k)
		delete(m.counters, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *Memory) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for k := range m.hashes {
		seen[k] = struct{}{}
	}
	for k := range m.counters {
		seen[k] = struct{}{}
	}
	for k := range m.lists {
		seen[k] = struct{}{}
	}

	var matched []string
	for k := range seen {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	subs := append([]*memorySubscription(nil), m.subs[channel]...)
	m.mu.Unlock()

	msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	for _, s := range subs {
		s.deliver(msg)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		broker:  m,
		channel: channel,
		out:     make(chan Message, 256),
	}
	m.subs[channel] = append(m.subs[channel], sub)
	return sub, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for _, s := range subs {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.closeOnce.Do(func() { close(s.out) })
		}
	}
	m.subs = make(map[string][]*memorySubscription)
	return nil
}

func (m *Memory) removeSub(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[sub.channel]
	for i, s := range subs {
		if s == sub {
			m.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[sub.channel]) == 0 {
		delete(m.subs, sub.channel)
	}
}

type memorySubscription struct {
	broker    *Memory
	channel   string
	out       chan Message
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (s *memorySubscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.out <- msg
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.broker.removeSub(s)
	s.closeOnce.Do(func() { close(s.out) })
	return nil
}

var _ Broker = (*Memory)(nil)
