package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStaleSequence is returned by PublishAt when the sequence does not advance
var ErrStaleSequence = errors.New("mailbox: sequence does not advance")

// Mailbox is a single-slot handoff holding the most recent value and its
// sequence number. Writers overwrite, readers skip anything they were too
// slow to see. The lock only covers the swap.
type Mailbox[T any] struct {
	mu    sync.Mutex
	seq   uint64
	value T
	has   bool
	read  bool

	overwritten atomic.Uint64

	// OnDrop, if set, is called with a value replaced before any reader
	// observed it. It runs outside the lock.
	OnDrop func(T)
}

// NewMailbox creates an empty mailbox
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Publish stores v under the next sequence number and returns it
func (m *Mailbox[T]) Publish(v T) uint64 {
	return m.PublishWith(func(uint64) T { return v })
}

// PublishWith builds the value with its sequence number inside the critical
// section, so the value can carry the sequence it is published under.
// build must be cheap.
func (m *Mailbox[T]) PublishWith(build func(seq uint64) T) uint64 {
	m.mu.Lock()
	seq := m.seq + 1
	prev, dropped := m.swap(seq, build(seq))
	m.mu.Unlock()

	m.dropped(prev, dropped)
	return seq
}

// PublishAt stores v under a caller-supplied sequence number, which must be
// greater than the current one.
func (m *Mailbox[T]) PublishAt(seq uint64, v T) error {
	m.mu.Lock()
	if seq <= m.seq {
		m.mu.Unlock()
		return ErrStaleSequence
	}
	prev, dropped := m.swap(seq, v)
	m.mu.Unlock()

	m.dropped(prev, dropped)
	return nil
}

// swap must be called with mu held
func (m *Mailbox[T]) swap(seq uint64, v T) (T, bool) {
	prev, dropped := m.value, m.has && !m.read
	m.seq = seq
	m.value = v
	m.has = true
	m.read = false
	return prev, dropped
}

func (m *Mailbox[T]) dropped(prev T, dropped bool) {
	if !dropped {
		return
	}
	m.overwritten.Add(1)
	if m.OnDrop != nil {
		m.OnDrop(prev)
	}
}

// TryReadIfNewer returns the stored value if its sequence is greater than
// lastSeen. It never blocks on the writer beyond the swap.
func (m *Mailbox[T]) TryReadIfNewer(lastSeen uint64) (uint64, T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.has || m.seq <= lastSeen {
		var zero T
		return 0, zero, false
	}
	m.read = true
	return m.seq, m.value, true
}

// Seq returns the sequence of the stored value, 0 if empty
func (m *Mailbox[T]) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Pending returns 1 when the stored value has not been read yet
func (m *Mailbox[T]) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.has && !m.read {
		return 1
	}
	return 0
}

// Overwritten counts values replaced before any reader saw them
func (m *Mailbox[T]) Overwritten() uint64 {
	return m.overwritten.Load()
}
