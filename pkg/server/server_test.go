package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/sonicstage/pkg/gcode"
	"github.com/probelab/sonicstage/pkg/stage"
)

type stubMotion struct {
	steps    []stage.StepRequest
	started  []stage.Action
	stopped  []stage.Action
	feeds    []float64
	ticks    []time.Duration
	queried  bool
	stepErr  error
	startErr error
	queryErr error
	inits    int
	estops   int
}

func (m *stubMotion) SubmitStep(req stage.StepRequest) error {
	m.steps = append(m.steps, req)
	return m.stepErr
}

func (m *stubMotion) StartContinuous(action stage.Action, feed float64, tick time.Duration) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, action)
	m.feeds = append(m.feeds, feed)
	m.ticks = append(m.ticks, tick)
	return nil
}

func (m *stubMotion) StopContinuous(action stage.Action) {
	m.stopped = append(m.stopped, action)
}

func (m *stubMotion) CachedPosition() gcode.Position {
	return gcode.Position{gcode.AxisX: 12.5, gcode.AxisZ: -3}
}

func (m *stubMotion) QueryPosition(ctx context.Context) (gcode.Position, error) {
	m.queried = true
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return gcode.Position{gcode.AxisX: 99}, nil
}

func (m *stubMotion) EmergencyStop() error {
	m.estops++
	return nil
}

func (m *stubMotion) Init(ctx context.Context) error {
	m.inits++
	return nil
}

func (m *stubMotion) ScanStart(ctx context.Context) error    { return nil }
func (m *stubMotion) ScanTraverse(ctx context.Context) error { return nil }

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestJogSubmitsStep(t *testing.T) {
	m := &stubMotion{}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodPost, "/api/jog", `{"direction":"Z-","step":0.5,"feed":1200}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, m.steps, 1)
	assert.Equal(t, gcode.AxisZ, m.steps[0].Axis)
	assert.Equal(t, -0.5, m.steps[0].Delta)
	assert.Equal(t, 1200.0, m.steps[0].Feed)
	assert.Equal(t, stage.OriginStep, m.steps[0].Origin)
}

func TestJogDefaultsStepToOne(t *testing.T) {
	m := &stubMotion{}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodPost, "/api/jog", `{"direction":"X+"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, m.steps, 1)
	assert.Equal(t, 1.0, m.steps[0].Delta)
}

func TestJogRejectsUnknownDirection(t *testing.T) {
	m := &stubMotion{}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodPost, "/api/jog", `{"direction":"diagonal"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, m.steps)
}

func TestJogQueueFullMapsToUnavailable(t *testing.T) {
	m := &stubMotion{stepErr: errors.New("jog queue full")}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodPost, "/api/jog", `{"direction":"Y+"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestContinuousStartStop(t *testing.T) {
	m := &stubMotion{}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodPost, "/api/continuous/start", `{"action":"rot-cw","feed":300,"tick_ms":50}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, m.started, 1)
	assert.Equal(t, stage.ActionRotCW, m.started[0])
	assert.Equal(t, 300.0, m.feeds[0])
	assert.Equal(t, 50*time.Millisecond, m.ticks[0])

	w = doJSON(t, h, http.MethodPost, "/api/continuous/stop", `{"action":"rot-cw"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, m.stopped, 1)
	assert.Equal(t, stage.ActionRotCW, m.stopped[0])
}

func TestContinuousStartErrorIsBadRequest(t *testing.T) {
	m := &stubMotion{startErr: errors.New("unknown action")}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodPost, "/api/continuous/start", `{"action":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPositionCachedOmitsUnknownAxes(t *testing.T) {
	m := &stubMotion{}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodGet, "/api/position", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, m.queried)

	var pos map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pos))
	assert.Equal(t, 12.5, pos["X"])
	assert.Equal(t, -3.0, pos["Z"])
	_, hasY := pos["Y"]
	assert.False(t, hasY)
}

func TestPositionLiveQuery(t *testing.T) {
	m := &stubMotion{}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodGet, "/api/position?query=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, m.queried)

	var pos map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pos))
	assert.Equal(t, 99.0, pos["X"])
}

func TestPositionQueryFailureIsBadGateway(t *testing.T) {
	m := &stubMotion{queryErr: errors.New("ack timeout")}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodGet, "/api/position?query=1", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestEmergencyStop(t *testing.T) {
	m := &stubMotion{}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodPost, "/api/emergency-stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, m.estops)
}

func TestInitAndHealth(t *testing.T) {
	m := &stubMotion{}
	h := NewHandler(m)

	w := doJSON(t, h, http.MethodPost, "/api/init", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, m.inits)

	w = doJSON(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
