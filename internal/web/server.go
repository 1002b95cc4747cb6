// Package web serves a read-only dashboard over the decision ledger and the
// settlement history, with live cycle updates over SSE.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/autotrade/config"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/events"
	"go.uber.org/zap"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
	heartbeatInterval  = 30 * time.Second
)

type ledgerReader interface {
	Recent(instrument string, n int) ([]domain.LedgerEntry, error)
}

type settlementReader interface {
	All() ([]domain.CycleSummary, error)
}

// LedgerView ledger entry rendered with its timestamp.
type LedgerView struct {
	domain.LedgerEntry
	TimestampMs int64  `json:"timestamp_ms"`
	Time        string `json:"time"`
}

// Server exposes HTTP endpoints serving the HTML UI, JSON history and an SSE stream.
type Server struct {
	Addr        string
	Ledger      ledgerReader
	Settlements settlementReader
	Events      *events.CycleBroadcaster
	Policy      *config.PolicyStore

	logger *zap.Logger
}

// NewServer creates a new web server instance. Settlements and cycleEvents may be nil.
func NewServer(
	addr string,
	ledger ledgerReader,
	settlements settlementReader,
	cycleEvents *events.CycleBroadcaster,
	policy *config.PolicyStore,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:        addr,
		Ledger:      ledger,
		Settlements: settlements,
		Events:      cycleEvents,
		Policy:      policy,
		logger:      logger,
	}
}

// Handler routes of the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/ledger", s.handleLedger)
	mux.HandleFunc("/api/settlements", s.handleSettlements)
	mux.HandleFunc("/cycles/stream", s.handleCycleStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("dashboard listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "dashboard server")
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// handleLedger returns recent entries, newest first, for ?instrument= or
// every configured instrument.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLedgerLimit)
	}

	var ids []string
	if id := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("instrument"))); id != "" {
		ids = []string{id}
	} else if s.Policy != nil {
		for _, inst := range s.Policy.Current().Instruments() {
			ids = append(ids, inst.ID)
		}
	}

	out := make(map[string][]LedgerView, len(ids))
	for _, id := range ids {
		entries, err := s.Ledger.Recent(id, limit)
		if err != nil {
			s.logger.Error("failed to read ledger", zap.String("instrument", id), zap.Error(err))
			http.Error(w, "failed to read ledger", http.StatusInternalServerError)
			return
		}
		views := make([]LedgerView, 0, len(entries))
		for _, e := range entries {
			views = append(views, LedgerView{
				LedgerEntry: e,
				TimestampMs: e.Timestamp.UnixMilli(),
				Time:        e.Timestamp.UTC().Format(domain.LedgerTimeLayout),
			})
		}
		out[id] = views
	}
	writeJSON(w, out)
}

func (s *Server) handleSettlements(w http.ResponseWriter, _ *http.Request) {
	if s.Settlements == nil {
		http.Error(w, "settlement store not available", http.StatusServiceUnavailable)
		return
	}
	all, err := s.Settlements.All()
	if err != nil {
		s.logger.Error("failed to read settlements", zap.Error(err))
		http.Error(w, "failed to read settlements", http.StatusInternalServerError)
		return
	}
	if all == nil {
		all = []domain.CycleSummary{}
	}
	writeJSON(w, all)
}

// handleCycleStream pushes each finished cycle as an SSE "cycle" event.
func (s *Server) handleCycleStream(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		http.Error(w, "cycle events not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.Events.Subscribe()
	defer s.Events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// send a comment heartbeat so proxies keep connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case summary, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(summary)
			if err != nil {
				s.logger.Error("failed to encode cycle event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: cycle\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Autotrade</title>
  <style>
    body { margin:2rem; font-family:'Space Mono','JetBrains Mono',monospace; color:#111; background:#fff; }
    h1 { font-size:1.2rem; letter-spacing:.1em; }
    table { border-collapse:collapse; width:100%; margin-bottom:2rem; font-size:.8rem; }
    th, td { border:1px solid #ccc; padding:.3rem .5rem; text-align:left; vertical-align:top; }
    th { background:#f6f6f6; }
    .buy { color:#1b7f3b; } .sell { color:#b3261e; } .hold { color:#666; }
    #live { color:#9c9c9c; font-size:.8rem; }
  </style>
</head>
<body>
  <h1>AUTOTRADE</h1>
  <div id="live">waiting for cycles...</div>
  <h2>Cycles</h2>
  <table id="cycles"><thead><tr>
    <th>started</th><th>cycle</th><th>before</th><th>after</th><th>fees</th><th>profit</th><th>status</th>
  </tr></thead><tbody></tbody></table>
  <h2>Decisions</h2>
  <table id="ledger"><thead><tr>
    <th>time</th><th>instrument</th><th>action</th><th>intensity</th><th>price</th><th>qty</th><th>cash</th><th>result</th><th>rationale</th>
  </tr></thead><tbody></tbody></table>
<script>
function cell(tr, text, cls) { const td = document.createElement('td'); td.textContent = text; if (cls) td.className = cls; tr.appendChild(td); }
function addCycle(c, top) {
  const tr = document.createElement('tr');
  cell(tr, c.started_at); cell(tr, c.cycle_id); cell(tr, c.before); cell(tr, c.after);
  cell(tr, c.fees); cell(tr, c.profit); cell(tr, c.aborted ? 'aborted: ' + c.abort_reason : 'settled');
  const body = document.querySelector('#cycles tbody');
  top ? body.prepend(tr) : body.appendChild(tr);
}
function loadLedger() {
  fetch('/api/ledger').then(r => r.json()).then(data => {
    const rows = Object.values(data).flat().sort((a, b) => b.timestamp_ms - a.timestamp_ms);
    const body = document.querySelector('#ledger tbody');
    body.innerHTML = '';
    for (const e of rows) {
      const tr = document.createElement('tr');
      cell(tr, e.time); cell(tr, e.instrument); cell(tr, e.action, e.action); cell(tr, e.intensity);
      cell(tr, e.market_price); cell(tr, e.position_quantity); cell(tr, e.cash_balance);
      cell(tr, e.outcome ? e.outcome.state : (e.noop || '')); cell(tr, e.rationale);
      body.appendChild(tr);
    }
  });
}
fetch('/api/settlements').then(r => r.ok ? r.json() : []).then(all => all.reverse().forEach(c => addCycle(c, false)));
loadLedger();
const es = new EventSource('/cycles/stream');
es.addEventListener('cycle', ev => {
  const c = JSON.parse(ev.data);
  document.getElementById('live').textContent = 'last cycle ' + c.cycle_id + ' at ' + c.finished_at;
  addCycle(c, true);
  loadLedger();
});
</script>
</body>
</html>`
