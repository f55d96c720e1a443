// Package bounded provides fixed-capacity key/value containers with
// deterministic eviction.
package bounded

import (
	"container/list"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const DefaultCapacity = 1000

type Policy string

const (
	// PolicyFIFO evicts the earliest inserted key. Updating a key keeps its
	// original position.
	PolicyFIFO Policy = "fifo"
	// PolicyLRU evicts the least recently read or written key.
	PolicyLRU Policy = "lru"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFIFO:
		return PolicyFIFO, nil
	case PolicyLRU:
		return PolicyLRU, nil
	default:
		return "", fmt.Errorf("unknown eviction policy %q", s)
	}
}

// Map is a capacity-bounded map. Implementations are not safe for concurrent
// use; each task owns its own instances.
type Map[K comparable, V any] interface {
	Get(key K) (V, bool)
	// Put inserts or updates key. When the insert pushes the size above
	// capacity exactly one entry is evicted.
	Put(key K, value V)
	Delete(key K)
	Len() int
	Cap() int
	// Range visits entries oldest first until fn returns false.
	Range(fn func(key K, value V) bool)
	Clear()
	Evictions() uint64
}

type EvictFunc[K comparable, V any] func(key K, value V)

// New returns a Map for the given policy.
func New[K comparable, V any](policy Policy, capacity int, onEvict EvictFunc[K, V]) Map[K, V] {
	if policy == PolicyLRU {
		return NewLRU(capacity, onEvict)
	}
	return NewFIFO(capacity, onEvict)
}

type fifoEntry[K comparable, V any] struct {
	key   K
	value V
}

type FIFO[K comparable, V any] struct {
	capacity  int
	items     map[K]*list.Element
	order     *list.List
	onEvict   EvictFunc[K, V]
	evictions atomic.Uint64
}

func NewFIFO[K comparable, V any](capacity int, onEvict EvictFunc[K, V]) *FIFO[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FIFO[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

func (m *FIFO[K, V]) Get(key K) (V, bool) {
	if el, ok := m.items[key]; ok {
		return el.Value.(*fifoEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

func (m *FIFO[K, V]) Put(key K, value V) {
	if el, ok := m.items[key]; ok {
		el.Value.(*fifoEntry[K, V]).value = value
		return
	}
	m.items[key] = m.order.PushBack(&fifoEntry[K, V]{key: key, value: value})
	if m.order.Len() > m.capacity {
		m.evictOldest()
	}
}

func (m *FIFO[K, V]) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*fifoEntry[K, V])
	m.order.Remove(front)
	delete(m.items, entry.key)
	m.evictions.Add(1)
	if m.onEvict != nil {
		m.onEvict(entry.key, entry.value)
	}
}

func (m *FIFO[K, V]) Delete(key K) {
	if el, ok := m.items[key]; ok {
		m.order.Remove(el)
		delete(m.items, key)
	}
}

func (m *FIFO[K, V]) Len() int { return m.order.Len() }
func (m *FIFO[K, V]) Cap() int { return m.capacity }

func (m *FIFO[K, V]) Range(fn func(key K, value V) bool) {
	for el := m.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*fifoEntry[K, V])
		if !fn(entry.key, entry.value) {
			return
		}
	}
}

func (m *FIFO[K, V]) Clear() {
	m.items = make(map[K]*list.Element)
	m.order.Init()
}

func (m *FIFO[K, V]) Evictions() uint64 { return m.evictions.Load() }

// LRU wraps simplelru so it reports evictions the same way FIFO does.
// Explicit deletes and clears are not counted.
type LRU[K comparable, V any] struct {
	lru       *simplelru.LRU[K, V]
	capacity  int
	removing  bool
	onEvict   EvictFunc[K, V]
	evictions atomic.Uint64
}

func NewLRU[K comparable, V any](capacity int, onEvict EvictFunc[K, V]) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	m := &LRU[K, V]{capacity: capacity, onEvict: onEvict}
	// simplelru only fails on a non-positive size.
	m.lru, _ = simplelru.NewLRU[K, V](capacity, m.evicted)
	return m
}

func (m *LRU[K, V]) evicted(key K, value V) {
	if m.removing {
		return
	}
	m.evictions.Add(1)
	if m.onEvict != nil {
		m.onEvict(key, value)
	}
}

func (m *LRU[K, V]) Get(key K) (V, bool) { return m.lru.Get(key) }
func (m *LRU[K, V]) Put(key K, value V)  { m.lru.Add(key, value) }

func (m *LRU[K, V]) Delete(key K) {
	m.removing = true
	m.lru.Remove(key)
	m.removing = false
}

func (m *LRU[K, V]) Len() int { return m.lru.Len() }
func (m *LRU[K, V]) Cap() int { return m.capacity }

func (m *LRU[K, V]) Range(fn func(key K, value V) bool) {
	for _, k := range m.lru.Keys() {
		v, ok := m.lru.Peek(k)
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

func (m *LRU[K, V]) Clear() {
	m.removing = true
	m.lru.Purge()
	m.removing = false
}

func (m *LRU[K, V]) Evictions() uint64 { return m.evictions.Load() }
