package cli

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/ir"
	"github.com/roach88/hswatch/internal/registry"
)

// ErrProcessorReset is wrapped by ProcessorResetError.
var ErrProcessorReset = errors.New("processor reset requested")

// ProcessorResetError is the cancellation cause recorded when the engine
// asks for a processor reset. The run command exits with
// ExitProcessorReset so the supervisor restarts the process.
type ProcessorResetError struct {
	Resets int64
}

func (e *ProcessorResetError) Error() string { return ErrProcessorReset.Error() }

func (e *ProcessorResetError) Unwrap() error { return ErrProcessorReset }

// resetActuator ends the run instead of rebooting the host.
type resetActuator struct {
	cancel func(error)
	calls  atomic.Int64
}

func (a *resetActuator) PerformProcessorReset() error {
	n := a.calls.Add(1)
	a.cancel(&ProcessorResetError{Resets: n})
	return nil
}

// line is one JSON record on the output stream.
type line struct {
	Type         string               `json:"type"`
	Payload      ir.Payload           `json:"payload,omitempty"`
	Report       string               `json:"report,omitempty"`
	Cycle        int64                `json:"cycle,omitempty"`
	Message      string               `json:"message,omitempty"`
	Housekeeping *engine.Housekeeping `json:"housekeeping,omitempty"`
}

// lineBus writes bus messages, reports and housekeeping snapshots as JSON
// lines. It implements engine.Bus.
type lineBus struct {
	mu   sync.Mutex
	enc  *json.Encoder
	last atomic.Pointer[engine.Housekeeping]
}

func newLineBus(w io.Writer) *lineBus {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &lineBus{enc: enc}
}

func (b *lineBus) write(l line) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enc.Encode(l)
}

func (b *lineBus) Send(payload []byte) error {
	return b.write(line{Type: "message", Payload: payload})
}

func (b *lineBus) report(r engine.Report) {
	_ = b.write(line{Type: "report", Report: r.ID.String(), Cycle: r.Cycle, Message: r.Message})
}

func (b *lineBus) housekeeping(hk engine.Housekeeping) {
	b.last.Store(&hk)
	_ = b.write(line{Type: "housekeeping", Cycle: hk.Cycle, Housekeeping: &hk})
}

// Latest returns the most recent housekeeping snapshot, or nil before the
// first one.
func (b *lineBus) Latest() *engine.Housekeeping {
	return b.last.Load()
}

// eventGate tracks which fault-event streams the engine subscribed to. The
// HTTP event endpoint only accepts events on subscribed streams.
type eventGate struct {
	long  atomic.Bool
	short atomic.Bool
}

func (g *eventGate) flag(cat engine.EventCategory) *atomic.Bool {
	if cat == engine.CategoryShort {
		return &g.short
	}
	return &g.long
}

func (g *eventGate) Subscribe(cat engine.EventCategory) error {
	g.flag(cat).Store(true)
	return nil
}

func (g *eventGate) Unsubscribe(cat engine.EventCategory) error {
	g.flag(cat).Store(false)
	return nil
}

func (g *eventGate) Subscribed(cat engine.EventCategory) bool {
	return g.flag(cat).Load()
}

// server is the HTTP control surface of the run command.
type server struct {
	eng    *engine.Engine
	reg    *registry.Registry
	gate   *eventGate
	bus    *lineBus
	gather prometheus.Gatherer
	log    *slog.Logger
}

type eventRequest struct {
	AppName  string `json:"app_name"`
	EventID  uint16 `json:"event_id"`
	Category string `json:"category,omitempty"`
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /housekeeping", s.handleHousekeeping)
	mux.HandleFunc("POST /beat/{name}", s.handleBeat)
	mux.HandleFunc("POST /event", s.handleEvent)
	mux.HandleFunc("POST /command/{name}", s.handleCommand)
	return mux
}

func (s *server) handleHousekeeping(w http.ResponseWriter, r *http.Request) {
	hk := s.bus.Latest()
	if hk == nil {
		http.Error(w, "no housekeeping snapshot yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, hk)
}

// handleBeat bumps a liveness counter. The kind query parameter defaults
// to app-main.
func (s *server) handleBeat(w http.ResponseWriter, r *http.Request) {
	kind := ir.KindAppMain
	if q := r.URL.Query().Get("kind"); q != "" {
		if err := kind.UnmarshalText([]byte(q)); err != nil || kind == ir.KindNone {
			http.Error(w, "invalid resource kind", http.StatusBadRequest)
			return
		}
	}
	s.reg.Increment(ir.NormalizeName(r.PathValue("name")), kind)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.AppName == "" {
		http.Error(w, "app_name is required", http.StatusBadRequest)
		return
	}

	cat := engine.CategoryLong
	switch req.Category {
	case "", "long":
	case "short":
		cat = engine.CategoryShort
	default:
		http.Error(w, "invalid category", http.StatusBadRequest)
		return
	}
	if !s.gate.Subscribed(cat) {
		http.Error(w, cat.String()+" events not subscribed", http.StatusConflict)
		return
	}

	if !s.eng.Enqueue(engine.EventMessage(ir.NormalizeName(req.AppName), req.EventID)) {
		s.log.Warn("event dropped", "app_name", req.AppName, "event_id", req.EventID)
		http.Error(w, "message pipe full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleCommand enqueues a ground command. The body, if any, carries the
// command arguments.
func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var args engine.CommandArgs
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid arguments: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	cmd, err := engine.NewCommand(r.PathValue("name"), args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !s.eng.Enqueue(engine.CommandMessage(cmd)) {
		s.log.Warn("command dropped", "command", cmd.Name())
		http.Error(w, "message pipe full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
