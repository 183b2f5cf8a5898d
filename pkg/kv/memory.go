package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process KV for tests and single-node setups. TTLs are
// honored lazily on read.
type Memory struct {
	mu      sync.Mutex
	vals    map[string]memVal
	lists   map[string][]string
	listExp map[string]time.Time
}

type memVal struct {
	v   string
	exp time.Time
}

func NewMemory() *Memory {
	return &Memory{
		vals:    make(map[string]memVal),
		lists:   make(map[string][]string),
		listExp: make(map[string]time.Time),
	}
}

func (m *Memory) expired(exp time.Time) bool {
	return !exp.IsZero() && time.Now().After(exp)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.vals[key]
	if !ok || m.expired(mv.exp) {
		delete(m.vals, key)
		return "", false, nil
	}
	return mv.v, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.vals[key] = memVal{v: value, exp: exp}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mv, ok := m.vals[key]; ok && !m.expired(mv.exp) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.vals[key] = memVal{v: value, exp: exp}
	return true, nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	delete(m.lists, key)
	delete(m.listExp, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mv, ok := m.vals[key]; ok && !m.expired(mv.exp) {
		return true, nil
	}
	if exp, ok := m.listExp[key]; ok && !m.expired(exp) && len(m.lists[key]) > 0 {
		return true, nil
	}
	return false, nil
}

func (m *Memory) IncrBy(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	if mv, ok := m.vals[key]; ok && !m.expired(mv.exp) {
		cur = parseInt(mv.v)
	}
	cur += n
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.vals[key] = memVal{v: formatInt(cur), exp: exp}
	return cur, nil
}

func (m *Memory) PushCapped(_ context.Context, key, value string, cap int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.listExp[key]; ok && m.expired(exp) {
		delete(m.lists, key)
	}
	l := append([]string{value}, m.lists[key]...)
	if cap > 0 && int64(len(l)) > cap {
		l = l[:cap]
	}
	m.lists[key] = l
	if ttl > 0 {
		m.listExp[key] = time.Now().Add(ttl)
	} else {
		delete(m.listExp, key)
	}
	return nil
}

func (m *Memory) Range(_ context.Context, key string, n int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.listExp[key]; ok && m.expired(exp) {
		delete(m.lists, key)
		return nil, nil
	}
	l := m.lists[key]
	if n > 0 && int64(len(l)) > n {
		l = l[:n]
	}
	out := make([]string, len(l))
	copy(out, l)
	return out, nil
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
