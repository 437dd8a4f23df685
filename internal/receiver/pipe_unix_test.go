//go:build linux || darwin || freebsd || netbsd || openbsd

package receiver

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/ledwall/internal/frame"
)

func TestPipe_Listen(t *testing.T) {
	q := frame.NewQueue(4)
	rx := New(wall(t, 1), q)
	path := filepath.Join(t.TempDir(), "frames.fifo")
	p := NewPipe(path, rx)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Listen(ctx) }()

	require.Eventually(t, func() bool {
		fi, err := os.Stat(path)
		return err == nil && fi.Mode()&fs.ModeNamedPipe != 0
	}, 2*time.Second, 10*time.Millisecond)

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte{5}, 12))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, ok := q.PopLatest(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "pipe", f.Source)
	assert.Equal(t, byte(5), f.Pix[11])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pipe listener did not stop")
	}
}

func TestPipe_RefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	p := NewPipe(path, New(wall(t, 1), frame.NewQueue(1)))
	assert.Error(t, p.Listen(context.Background()))
}
