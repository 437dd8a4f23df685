package frame

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mk(seq uint64) *Frame {
	return &Frame{Width: 1, Height: 1, Pix: []byte{byte(seq), 0, 0}, Seq: seq}
}

func TestQueue_DrainKeepsNewest(t *testing.T) {
	const capacity = 3
	for _, n := range []int{1, 3, 4, 10} {
		q := NewQueue(capacity)
		for i := 1; i <= n; i++ {
			q.Push(mk(uint64(i)))
		}
		got := q.Drain()
		require.NotEmpty(t, got)
		assert.LessOrEqual(t, len(got), capacity)
		assert.Equal(t, uint64(n), got[len(got)-1].Seq, "newest frame retained")
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1].Seq, got[i].Seq, "order preserved")
		}
		assert.Equal(t, 0, q.Len())
	}
}

func TestQueue_PushEvictsOldest(t *testing.T) {
	q := NewQueue(2)
	assert.Equal(t, Accepted, q.Push(mk(1)))
	assert.Equal(t, Accepted, q.Push(mk(2)))
	assert.Equal(t, Evicted, q.Push(mk(3)))

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, uint64(3), got[1].Seq)

	st := q.Stats()
	assert.Equal(t, uint64(3), st.Pushed)
	assert.Equal(t, uint64(1), st.Evicted)
}

func TestQueue_PopLatestDiscardsOlder(t *testing.T) {
	q := NewQueue(4)
	for i := 1; i <= 3; i++ {
		q.Push(mk(uint64(i)))
	}
	f, ok := q.PopLatest(0)
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Seq)
	assert.Equal(t, 0, q.Len())

	_, ok = q.PopLatest(0)
	assert.False(t, ok)

	st := q.Stats()
	assert.Equal(t, uint64(2), st.Stale)
	assert.Equal(t, uint64(1), st.Popped)
}

func TestQueue_PopLatestTimeout(t *testing.T) {
	q := NewQueue(1)
	start := time.Now()
	_, ok := q.PopLatest(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_PopLatestWakesOnPush(t *testing.T) {
	q := NewQueue(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(mk(7))
	}()
	f, ok := q.PopLatest(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(7), f.Seq)
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(2)
	q.Push(mk(1))

	done := make(chan struct{})
	q2 := NewQueue(1)
	go func() {
		defer close(done)
		_, ok := q2.PopLatest(5 * time.Second)
		assert.False(t, ok)
	}()
	q2.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the consumer")
	}

	q.Close()
	q.Close()
	assert.Equal(t, Closed, q.Push(mk(2)))
	f, ok := q.PopLatest(0)
	require.True(t, ok, "pending frames survive Close")
	assert.Equal(t, uint64(1), f.Seq)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue(4)
	const producers, each = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Push(mk(uint64(p*each + i)))
			}
		}(p)
	}

	stop := make(chan struct{})
	popped := make(chan int)
	go func() {
		n := 0
		for {
			select {
			case <-stop:
				popped <- n
				return
			default:
			}
			if _, ok := q.PopLatest(time.Millisecond); ok {
				n++
			}
			assert.LessOrEqual(t, q.Len(), q.Cap())
		}
	}()

	wg.Wait()
	close(stop)
	<-popped

	st := q.Stats()
	assert.Equal(t, uint64(producers*each), st.Pushed)
	remaining := uint64(q.Len())
	assert.Equal(t, st.Pushed, st.Evicted+st.Stale+st.Popped+remaining, "every frame accounted for")
}

func TestNewQueue_MinCapacity(t *testing.T) {
	assert.Equal(t, 1, NewQueue(0).Cap())
	assert.Equal(t, 1, NewQueue(-3).Cap())
}
