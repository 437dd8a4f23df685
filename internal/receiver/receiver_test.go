package receiver

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/ledwall/internal/frame"
	"github.com/coreman2200/ledwall/internal/layout"
	"github.com/coreman2200/ledwall/internal/topology"
)

// wall publishes a 2x2 grid of square panels with the given edge.
func wall(t *testing.T, edge int) *layout.Active {
	t.Helper()
	top, err := topology.Validate(&topology.Raw{
		Grid: topology.RawGrid{GridWidth: 2, GridHeight: 2, PanelWidth: edge, PanelHeight: edge},
		Panels: []topology.RawPanel{
			{ID: 0, Position: []int{0, 0}},
			{ID: 1, Position: []int{1, 0}},
			{ID: 2, Rotation: 180, Position: []int{1, 1}},
			{ID: 3, Rotation: 180, Position: []int{0, 1}},
		},
	})
	require.NoError(t, err)
	var a layout.Active
	_, err = a.Publish(top)
	require.NoError(t, err)
	return &a
}

func TestIngest_DimensionMismatch(t *testing.T) {
	q := frame.NewQueue(2)
	rx := New(wall(t, 16), q)

	f, err := rx.Ingest(make([]byte, 10*10*3), 10, 10, "http")
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, q.Len(), "rejected frame never reaches the queue")
	assert.Equal(t, uint64(0), q.Stats().Pushed)

	st := rx.Stats()
	require.Len(t, st, 1)
	assert.Equal(t, uint64(1), st[0].Rejected["dimension_mismatch"])
}

func TestIngest_Truncated(t *testing.T) {
	q := frame.NewQueue(2)
	rx := New(wall(t, 16), q)

	_, err := rx.Ingest(make([]byte, 32*32*3-1), 32, 32, "http")
	assert.ErrorIs(t, err, ErrTruncatedPayload)
	_, err = rx.Ingest(make([]byte, 32*32*3+3), 32, 32, "http")
	assert.ErrorIs(t, err, ErrTruncatedPayload)
	assert.Equal(t, 0, q.Len())
}

func TestIngest_Accepts(t *testing.T) {
	q := frame.NewQueue(1)
	rx := New(wall(t, 2), q)

	raw := bytes.Repeat([]byte{1, 2, 3}, 16)
	f1, err := rx.Ingest(raw, 4, 4, "udp")
	require.NoError(t, err)
	raw[0] = 99
	assert.Equal(t, byte(1), f1.Pix[0], "payload copied")

	f2, err := rx.Ingest(raw, 4, 4, "udp")
	require.NoError(t, err)
	assert.Greater(t, f2.Seq, f1.Seq)
	assert.False(t, f2.Received.Before(f1.Received))
	assert.Equal(t, "udp", f2.Source)

	got, ok := q.PopLatest(0)
	require.True(t, ok)
	assert.Same(t, f2, got)

	st := rx.Stats()
	require.Len(t, st, 1)
	assert.Equal(t, uint64(2), st[0].Accepted)
	assert.Equal(t, uint64(1), st[0].Evicted)
}

func TestIngest_NoTopology(t *testing.T) {
	rx := New(&layout.Active{}, frame.NewQueue(1))
	_, err := rx.Ingest(nil, 0, 0, "ws")
	assert.ErrorIs(t, err, ErrNoTopology)
}

func TestIngest_QueueClosed(t *testing.T) {
	q := frame.NewQueue(1)
	q.Close()
	rx := New(wall(t, 1), q)
	_, err := rx.Ingest(make([]byte, 12), 2, 2, "ws")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "dimension_mismatch", Reason(ErrDimensionMismatch))
	assert.Equal(t, "truncated_payload", Reason(errors.Join(errors.New("x"), ErrTruncatedPayload)))
	assert.Equal(t, "error", Reason(errors.New("boom")))
}

func TestReadFrames(t *testing.T) {
	q := frame.NewQueue(4)
	rx := New(wall(t, 1), q) // 2x2 canvas, 12 byte frames

	var stream bytes.Buffer
	stream.Write(bytes.Repeat([]byte{1}, 12))
	stream.Write(bytes.Repeat([]byte{2}, 12))
	stream.Write([]byte{3, 3, 3}) // short tail

	require.NoError(t, rx.ReadFrames(context.Background(), &stream, "pipe"))

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, byte(1), got[0].Pix[0])
	assert.Equal(t, byte(2), got[1].Pix[0])

	st := rx.Stats()
	require.Len(t, st, 1)
	assert.Equal(t, uint64(2), st[0].Accepted)
	assert.Equal(t, uint64(1), st[0].Rejected["truncated_payload"])
}

func TestReadFrames_Cancelled(t *testing.T) {
	rx := New(wall(t, 1), frame.NewQueue(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, rx.ReadFrames(ctx, bytes.NewReader(make([]byte, 120)), "pipe"))
}
