package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_EmptyReadsNothing(t *testing.T) {
	m := NewMailbox[int]()

	seq, v, ok := m.TryReadIfNewer(0)
	assert.False(t, ok)
	assert.Zero(t, seq)
	assert.Zero(t, v)
	assert.Zero(t, m.Pending())
}

func TestMailbox_ReadOnlyWhenNewer(t *testing.T) {
	m := NewMailbox[string]()

	s1 := m.Publish("a")
	seq, v, ok := m.TryReadIfNewer(0)
	require.True(t, ok)
	assert.Equal(t, s1, seq)
	assert.Equal(t, "a", v)

	_, _, ok = m.TryReadIfNewer(seq)
	assert.False(t, ok, "same sequence is not new")

	s2 := m.Publish("b")
	assert.Greater(t, s2, s1)
	seq, v, ok = m.TryReadIfNewer(s1)
	require.True(t, ok)
	assert.Equal(t, s2, seq)
	assert.Equal(t, "b", v)
}

func TestMailbox_OverwriteSkipsAndCounts(t *testing.T) {
	m := NewMailbox[int]()
	var dropped []int
	m.OnDrop = func(v int) { dropped = append(dropped, v) }

	m.Publish(1)
	m.Publish(2)
	m.Publish(3)
	assert.Equal(t, 1, m.Pending())

	seq, v, ok := m.TryReadIfNewer(0)
	require.True(t, ok)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, 3, v)
	assert.Equal(t, 0, m.Pending())

	// A value that was read is not counted as dropped when replaced.
	m.Publish(4)
	assert.Equal(t, uint64(2), m.Overwritten())
	assert.Equal(t, []int{1, 2}, dropped)
}

func TestMailbox_PublishWithStampsSequence(t *testing.T) {
	m := NewMailbox[*Frame]()

	for i := 0; i < 3; i++ {
		f := &Frame{}
		seq := m.PublishWith(func(seq uint64) *Frame {
			f.Seq = seq
			return f
		})
		got, v, ok := m.TryReadIfNewer(seq - 1)
		require.True(t, ok)
		assert.Equal(t, seq, got)
		assert.Equal(t, seq, v.Seq)
	}
}

func TestMailbox_PublishAtRejectsStaleSequence(t *testing.T) {
	m := NewMailbox[string]()

	require.NoError(t, m.PublishAt(5, "five"))
	assert.ErrorIs(t, m.PublishAt(5, "again"), ErrStaleSequence)
	assert.ErrorIs(t, m.PublishAt(3, "older"), ErrStaleSequence)
	require.NoError(t, m.PublishAt(9, "nine"))

	seq, v, ok := m.TryReadIfNewer(5)
	require.True(t, ok)
	assert.Equal(t, uint64(9), seq)
	assert.Equal(t, "nine", v)
	assert.Equal(t, uint64(9), m.Seq())
}

func TestMailbox_ReadersNeverSeeSequenceGoBackward(t *testing.T) {
	m := NewMailbox[uint64]()
	const publishes = 20000

	var wg sync.WaitGroup
	failures := make(chan string, 8)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for last < publishes {
				seq, v, ok := m.TryReadIfNewer(last)
				if !ok {
					continue
				}
				if seq <= last {
					failures <- "sequence did not advance"
					return
				}
				if v != seq {
					failures <- "value does not match its sequence"
					return
				}
				last = seq
			}
		}()
	}

	for i := 0; i < publishes; i++ {
		m.PublishWith(func(seq uint64) uint64 { return seq })
	}

	wg.Wait()
	close(failures)
	for v := range failures {
		t.Error(v)
	}
}
