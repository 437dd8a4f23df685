package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub()
	c, stop := h.Subscribe()

	h.Publish(Diagnostic{Severity: Warn, Code: "SINK.DEGRADED", Summary: "sink failing"})
	d := <-c
	assert.Equal(t, "SINK.DEGRADED", d.Code)
	assert.False(t, d.Time.IsZero())

	stop()
	stop()
	_, open := <-c
	assert.False(t, open)

	h.Publish(Diagnostic{Severity: Info, Code: "TEST.DONE"})
	require.Len(t, h.Recent(), 2)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, stop := h.Subscribe()
	defer stop()
	for i := 0; i < subBuffer*4; i++ {
		h.Publish(Diagnostic{Severity: Info, Code: "X"})
	}
	assert.Len(t, h.Recent(), keepRecent)
}

func TestEmitNil(t *testing.T) {
	assert.NotPanics(t, func() { Emit(nil, Diagnostic{Code: "X"}) })
}
