package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/ir"
	"github.com/roach88/hswatch/internal/registry"
	"github.com/roach88/hswatch/internal/tables"
	"github.com/roach88/hswatch/internal/testutil"
)

type testServer struct {
	*server
	handler http.Handler
	out     *bytes.Buffer
}

func newTestServer(t *testing.T, opts ...engine.EngineOption) *testServer {
	t.Helper()

	out := &bytes.Buffer{}
	bus := newLineBus(out)
	reg := registry.New()
	gate := &eventGate{}

	opts = append([]engine.EngineOption{
		engine.WithLogger(testutil.NewLogger(t)),
		engine.WithTimeSource(testutil.NewFakeTime(testutil.Epoch)),
		engine.WithBootIDGenerator(testutil.NewFixedBootID("")),
		engine.WithHousekeepingSink(bus.housekeeping),
	}, opts...)
	eng, err := engine.New(engine.Dependencies{
		Registry:           reg,
		Bus:                bus,
		Actuator:           &testutil.Actuator{},
		Block:              &testutil.MemoryBlock{},
		Subscriber:         gate,
		AppMonitorTable:    tables.NewStaticSource[ir.AppMonEntry](nil),
		EventMonitorTable:  tables.NewStaticSource[ir.EventRule](nil),
		MessageActionTable: tables.NewStaticSource[ir.MessageAction](nil),
	}, opts...)
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	require.NoError(t, promReg.Register(reg))

	s := &server{
		eng:    eng,
		reg:    reg,
		gate:   gate,
		bus:    bus,
		gather: promReg,
		log:    testutil.NewLogger(t),
	}
	return &testServer{server: s, handler: s.routes(), out: out}
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func TestServer_Beat(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/beat/SCH", "").Code)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/beat/SCH", "").Code)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/beat/UART?kind=device", "").Code)

	n, ok := ts.reg.LivenessCount("SCH", ir.KindAppMain)
	require.True(t, ok)
	assert.Equal(t, uint32(2), n)

	n, ok = ts.reg.LivenessCount("UART", ir.KindDevice)
	require.True(t, ok)
	assert.Equal(t, uint32(1), n)
}

func TestServer_BeatRejectsBadKind(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/beat/SCH?kind=bogus", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/beat/SCH?kind=none", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodGet, "/beat/SCH", "").Code)
}

func TestServer_EventRequiresSubscription(t *testing.T) {
	ts := newTestServer(t)
	body := `{"app_name":"CFE_ES","event_id":7}`

	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/event", body).Code)

	require.NoError(t, ts.gate.Subscribe(engine.CategoryLong))
	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/event", body).Code)

	short := `{"app_name":"CFE_ES","event_id":7,"category":"short"}`
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/event", short).Code)

	require.NoError(t, ts.gate.Unsubscribe(engine.CategoryLong))
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/event", body).Code)
}

func TestServer_EventRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.gate.Subscribe(engine.CategoryLong))

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing app", `{"event_id":7}`},
		{"bad category", `{"app_name":"X","event_id":1,"category":"medium"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/event", tt.body).Code)
		})
	}
}

func TestServer_EventPipeFull(t *testing.T) {
	ts := newTestServer(t, engine.WithPipeDepth(1))
	require.NoError(t, ts.gate.Subscribe(engine.CategoryLong))
	body := `{"app_name":"CFE_ES","event_id":7}`

	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/event", body).Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodPost, "/event", body).Code)
}

func TestServer_Command(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.eng.Init(ctx)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/command/reboot", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/command/set_max_resets", "{").Code)
	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/command/set_max_resets", `{"n":3}`).Code)

	ts.eng.Tick(ctx)
	assert.Equal(t, uint16(3), ts.eng.Housekeeping().MaxResets)
}

func TestServer_Housekeeping(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.eng.Init(ctx)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/housekeeping", "").Code)

	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/command/send_housekeeping", "").Code)
	ts.eng.Tick(ctx)

	w := ts.do(http.MethodGet, "/housekeeping", "")
	require.Equal(t, http.StatusOK, w.Code)
	var hk engine.Housekeeping
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hk))
	assert.Equal(t, "test-boot-default", hk.BootID)
	assert.Equal(t, int64(1), hk.Cycle)

	assert.Contains(t, ts.out.String(), `"type":"housekeeping"`)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/beat/SCH", "")

	w := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `hswatch_liveness_count{kind="app-main",name="SCH"} 1`)
}

func TestLineBus_WritesJSONLines(t *testing.T) {
	out := &bytes.Buffer{}
	bus := newLineBus(out)

	require.NoError(t, bus.Send([]byte{0x18, 0xab}))
	bus.report(engine.Report{ID: engine.ReportMessageSent, Cycle: 4, Message: "sent"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"type":"message","payload":"18ab"}`, lines[0])
	assert.JSONEq(t, `{"type":"report","report":"message_sent","cycle":4,"message":"sent"}`, lines[1])
	assert.Nil(t, bus.Latest())
}

func TestResetActuator_CancelsWithCause(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	a := &resetActuator{cancel: cancel}

	require.NoError(t, a.PerformProcessorReset())

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	cause := context.Cause(ctx)
	assert.ErrorIs(t, cause, ErrProcessorReset)

	var resetErr *ProcessorResetError
	require.ErrorAs(t, cause, &resetErr)
	assert.Equal(t, int64(1), resetErr.Resets)
}
