package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	diag "github.com/coreman2200/ledwall/internal/diagnostics"
	"github.com/coreman2200/ledwall/internal/frame"
	"github.com/coreman2200/ledwall/internal/layout"
	"github.com/coreman2200/ledwall/internal/led"
	"github.com/coreman2200/ledwall/internal/receiver"
	"github.com/coreman2200/ledwall/internal/render"
	"github.com/coreman2200/ledwall/internal/topology"
)

func wallRaw(edge int) *topology.Raw {
	return &topology.Raw{
		Grid: topology.RawGrid{GridWidth: 2, GridHeight: 2, PanelWidth: edge, PanelHeight: edge, WiringPattern: "snake"},
		Panels: []topology.RawPanel{
			{ID: 0, Position: []int{0, 0}},
			{ID: 1, Position: []int{1, 0}},
			{ID: 2, Rotation: 180, Position: []int{1, 1}},
			{ID: 3, Rotation: 180, Position: []int{0, 1}},
		},
	}
}

type fakeControl struct {
	active     *layout.Active
	mu         sync.Mutex
	raw        *topology.Raw
	persistErr error
}

func (c *fakeControl) Topology() *topology.Raw {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

func (c *fakeControl) ApplyTopology(_ context.Context, raw *topology.Raw) (*layout.Generation, error) {
	top, err := topology.Validate(raw)
	if err != nil {
		return nil, err
	}
	g, err := c.active.Publish(top)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.raw = top.Raw()
	c.mu.Unlock()
	return g, c.persistErr
}

type rig struct {
	ctl   *fakeControl
	queue *frame.Queue
	eng   *render.Engine
	hub   *diag.Hub
	srv   *Server
	ts    *httptest.Server
}

func newRig(t *testing.T) *rig {
	t.Helper()
	active := &layout.Active{}
	ctl := &fakeControl{active: active}
	_, err := ctl.ApplyTopology(context.Background(), wallRaw(2))
	require.NoError(t, err)

	q := frame.NewQueue(2)
	hub := diag.NewHub()
	eng, err := render.NewEngine(active, q, led.NewSim(16), render.Options{Diag: hub})
	require.NoError(t, err)

	srv := New(Deps{
		Active:   active,
		Receiver: receiver.New(active, q),
		Engine:   eng,
		Queue:    q,
		Hub:      hub,
		Control:  ctl,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &rig{ctl: ctl, queue: q, eng: eng, hub: hub, srv: srv, ts: ts}
}

func (r *rig) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.ts.URL, "http") + path
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))
}

func postFrame(t *testing.T, r *rig, body []byte, hdr map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, r.ts.URL+"/frame", bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

func TestPostFrame(t *testing.T) {
	r := newRig(t)

	res := postFrame(t, r, make([]byte, frame.Size(4, 4)), nil)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	var ack frameAck
	decode(t, res, &ack)
	assert.Equal(t, uint64(1), ack.Seq)
	assert.Equal(t, 1, r.queue.Len())
}

func TestPostFrame_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		body   int
		hdr    map[string]string
		status int
		reason string
	}{
		{"mismatch", frame.Size(10, 10), map[string]string{"X-Frame-Width": "10", "X-Frame-Height": "10"}, http.StatusUnprocessableEntity, "dimension_mismatch"},
		{"truncated", frame.Size(4, 4) - 1, nil, http.StatusBadRequest, "truncated_payload"},
		{"bad header", frame.Size(4, 4), map[string]string{"X-Frame-Width": "four", "X-Frame-Height": "4"}, http.StatusBadRequest, "bad_header"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t)
			res := postFrame(t, r, make([]byte, tc.body), tc.hdr)
			assert.Equal(t, tc.status, res.StatusCode)
			var eb errorBody
			decode(t, res, &eb)
			assert.Equal(t, tc.reason, eb.Error)
			assert.Equal(t, 0, r.queue.Len())
		})
	}
}

func TestPostFrame_QueryDims(t *testing.T) {
	r := newRig(t)
	res, err := http.Post(r.ts.URL+"/frame?width=3&height=4", "application/octet-stream", bytes.NewReader(make([]byte, frame.Size(3, 4))))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

func TestStatus(t *testing.T) {
	r := newRig(t)
	postFrame(t, r, make([]byte, frame.Size(4, 4)), nil).Body.Close()
	require.NoError(t, r.eng.RenderOnce())

	res, err := http.Get(r.ts.URL + "/status")
	require.NoError(t, err)
	var body struct {
		State     string                 `json:"state"`
		Rendered  uint64                 `json:"rendered"`
		Canvas    canvasInfo             `json:"canvas"`
		Queue     frame.QueueStats       `json:"queue"`
		Receivers []receiver.SourceStats `json:"receivers"`
	}
	decode(t, res, &body)
	assert.Equal(t, "idle", body.State)
	assert.Equal(t, uint64(1), body.Rendered)
	assert.Equal(t, 4, body.Canvas.Width)
	assert.Equal(t, 16, body.Canvas.LEDs)
	assert.Equal(t, uint64(1), body.Queue.Popped)
	require.Len(t, body.Receivers, 1)
	assert.Equal(t, "http", body.Receivers[0].Source)
}

func putConfig(t *testing.T, r *rig, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, r.ts.URL+"/config", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

func TestPutConfig_RejectsInvalid(t *testing.T) {
	r := newRig(t)
	raw := wallRaw(2)
	raw.Panels[1].Rotation = 45
	b, _ := json.Marshal(raw)

	res := putConfig(t, r, "application/json", b)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var eb errorBody
	decode(t, res, &eb)
	assert.Equal(t, "validation_failed", eb.Error)
	assert.Equal(t, string(topology.RuleRotation), eb.Rule)
	assert.Equal(t, uint64(1), r.ctl.active.Load().ID, "running generation untouched")
}

func TestPutConfig_AppliesYAML(t *testing.T) {
	r := newRig(t)
	doc := `
grid: {grid_width: 1, grid_height: 1, panel_width: 8, panel_height: 8, wiring_pattern: sequential}
panels:
  - {id: 0, rotation: 90, position: [0, 0]}
`
	res := putConfig(t, r, "application/yaml", []byte(doc))
	require.Equal(t, http.StatusOK, res.StatusCode)
	var ar applyResult
	decode(t, res, &ar)
	assert.Equal(t, uint64(2), ar.Generation)
	assert.Equal(t, 8, ar.Width)
	assert.Equal(t, 64, ar.LEDs)
	assert.True(t, ar.Persisted)

	res, err := http.Get(r.ts.URL + "/config")
	require.NoError(t, err)
	var got topology.Raw
	decode(t, res, &got)
	assert.Equal(t, "sequential", got.Grid.WiringPattern)
	require.Len(t, got.Panels, 1)
	assert.Equal(t, 90, got.Panels[0].Rotation)
}

func TestPutConfig_PersistFailureStillApplies(t *testing.T) {
	r := newRig(t)
	r.ctl.persistErr = errors.New("disk full")
	b, _ := json.Marshal(wallRaw(4))

	res := putConfig(t, r, "application/json", b)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var ar applyResult
	decode(t, res, &ar)
	assert.False(t, ar.Persisted)
	assert.Contains(t, ar.Warning, "disk full")
	assert.Equal(t, 8, ar.Width)
}

func TestPutConfig_BadDocument(t *testing.T) {
	r := newRig(t)
	res := putConfig(t, r, "application/json", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}

func TestFramesWS(t *testing.T) {
	r := newRig(t)
	c := r.dial(t, "/ws/frames")

	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, make([]byte, frame.Size(4, 4))))
	var ack frameAck
	require.NoError(t, c.ReadJSON(&ack))
	assert.Equal(t, uint64(1), ack.Seq)

	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, make([]byte, 5)))
	var eb errorBody
	require.NoError(t, c.ReadJSON(&eb))
	assert.Equal(t, "truncated_payload", eb.Error)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("hi")))
	eb = errorBody{}
	require.NoError(t, c.ReadJSON(&eb))
	assert.Equal(t, "binary_expected", eb.Error)

	assert.Equal(t, 1, r.queue.Len())
}

func TestFramesWS_DeclaredDims(t *testing.T) {
	r := newRig(t)
	c := r.dial(t, "/ws/frames?width=10&height=10")
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, make([]byte, frame.Size(10, 10))))
	var eb errorBody
	require.NoError(t, c.ReadJSON(&eb))
	assert.Equal(t, "dimension_mismatch", eb.Error)
	assert.Equal(t, 0, r.queue.Len())
}

func TestControlWS(t *testing.T) {
	r := newRig(t)
	c := r.dial(t, "/ws/control")

	var st controlState
	require.NoError(t, c.ReadJSON(&st))
	assert.Equal(t, "mock", st.Driver)
	assert.Equal(t, 60, st.FPS)

	require.NoError(t, c.WriteJSON(map[string]any{"brightness": 0.3, "fps": 30, "runTest": "panel_id"}))
	require.NoError(t, c.ReadJSON(&st))
	assert.InDelta(t, 0.3, st.Brightness, 1e-9)
	assert.Equal(t, 30, st.FPS)
	assert.Equal(t, "panel_id", st.Test)

	require.NoError(t, c.WriteJSON(map[string]any{"fps": 2_000_000_000}))
	require.NoError(t, c.ReadJSON(&st))
	assert.Equal(t, 30, st.FPS, "out-of-range fps ignored")
	recent := r.hub.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, "CONTROL.INVALID", recent[len(recent)-1].Code)

	require.NoError(t, c.WriteJSON(map[string]any{"runTest": "none"}))
	require.NoError(t, c.ReadJSON(&st))
	assert.Empty(t, st.Test)

	require.NoError(t, c.WriteJSON(map[string]any{"runTest": "plasma"}))
	require.NoError(t, c.ReadJSON(&st))
	recent = r.hub.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, "TEST.UNKNOWN", recent[len(recent)-1].Code)
}

func TestDiagWS(t *testing.T) {
	r := newRig(t)
	r.hub.Publish(diag.Diagnostic{Severity: diag.Info, Code: "EARLY", Summary: "before connect"})
	c := r.dial(t, "/ws/diag")

	var d diag.Diagnostic
	require.NoError(t, c.ReadJSON(&d))
	assert.Equal(t, "EARLY", d.Code)

	// The subscription is taken before the replay, so this cannot be missed.
	r.hub.Publish(diag.Diagnostic{Severity: diag.Warn, Code: "LATE", Summary: "after connect"})
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, c.ReadJSON(&d))
	assert.Equal(t, "LATE", d.Code)
}

func TestPreviewWS(t *testing.T) {
	r := newRig(t)
	c := r.dial(t, "/ws/preview")
	require.Eventually(t, func() bool {
		r.srv.mu.Lock()
		defer r.srv.mu.Unlock()
		return len(r.srv.preview) == 1
	}, 2*time.Second, 5*time.Millisecond)

	pix := make([]byte, frame.Size(4, 4))
	pix[0] = 200
	postFrame(t, r, pix, nil).Body.Close()
	require.NoError(t, r.eng.RenderOnce())

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pf previewFrame
	require.NoError(t, c.ReadJSON(&pf))
	assert.Equal(t, uint64(1), pf.Generation)
	assert.Equal(t, 4, pf.Width)
	require.Len(t, pf.RGB, len(pix))
	assert.Equal(t, byte(200), pf.RGB[0])
}

func TestHealthAndCORS(t *testing.T) {
	r := newRig(t)
	res, err := http.Get(r.ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	var body map[string]any
	decode(t, res, &body)
	assert.EqualValues(t, 16, body["count"])

	req, _ := http.NewRequest(http.MethodOptions, r.ts.URL+"/frame", nil)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
