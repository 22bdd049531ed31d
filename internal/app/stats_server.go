package app

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"botwatch/internal/ingest"
	"botwatch/internal/store"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket upgrader for real-time stats
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame types pushed on /ws.
const (
	frameStats    = "stats"
	frameSnapshot = "snapshot"
)

type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Handler builds the HTTP handler with every route and the middleware chain.
func (r *Runner) Handler() http.Handler {
	mux := http.NewServeMux()
	logger := r.clients.Logger

	// Register settings routes if settings manager is available
	if r.settingsManager != nil {
		NewSettingsHandler(logger, r.settingsManager).RegisterRoutes(mux)
	}

	r.registerAPIRoutes(mux)

	if r.db != nil {
		NewRentalsHandler(logger, r.db, r.store).RegisterRoutes(mux)
		NewRegistryHandler(logger, r.db, r.store, r.liveConfig, r.alerts).RegisterRoutes(mux)
	} else {
		logger.Info("no database configured, rentals and registry routes disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": r.liveConfig.Get().Server.AppVersion})
	})
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// JSON stats endpoint
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.GetStats())
	})

	mux.HandleFunc("GET /ws", r.handleWebSocket)
	mux.Handle("GET /stream", r.broker)
	mux.HandleFunc("GET /events", r.handleEventStream)
	mux.HandleFunc("GET /charts/mini", r.handleMiniChart)
	mux.HandleFunc("GET /logs/stream", r.handleLogStream)
	mux.Handle("GET /metrics", r.metrics.Handler())

	// HTML dashboard
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(dashboardHTML))
	})

	var h http.Handler = mux
	h = r.limiter.Middleware(h)
	h = cors(r.liveConfig, h)
	h = recoverer(logger, h)
	return instrument(r.metrics, h)
}

// startServer serves the handler on ln in the background.
func (r *Runner) startServer(ln net.Listener) {
	r.server = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.clients.Logger.Error("http server error", zap.Error(err))
		}
	}()
}

// handleWebSocket pushes a stats frame on every tick and a snapshot frame
// for every published dashboard update.
func (r *Runner) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.clients.Logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Reading handles ping/close control frames and notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := r.broker.Subscribe()
	defer r.broker.Unsubscribe(sub)

	interval := r.liveConfig.Get().Stream.StatsPushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := conn.WriteJSON(wsFrame{Type: frameStats, Data: r.GetStats()}); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(wsFrame{Type: frameStats, Data: r.GetStats()}); err != nil {
				return // Client disconnected
			}
		case msg := <-sub.C():
			if err := conn.WriteJSON(wsFrame{Type: frameSnapshot, Data: json.RawMessage(msg)}); err != nil {
				return
			}
		}
	}
}

// startHTMLStream sets streaming headers and writes the opening marker.
func startHTMLStream(w http.ResponseWriter, marker string) *http.ResponseController {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_, _ = io.WriteString(w, "<!-- "+marker+" -->\n")
	_ = rc.Flush()
	return rc
}

var eventRowTmpl = template.Must(template.New("event").Parse(`<div class="event-item">` +
	`<span class="ts">{{.Time}}</span> ` +
	`<span class="bot">{{.Bot}}</span> ` +
	`<span class="lat">{{.Latency}}ms</span> ` +
	`<span class="{{.Class}}">{{.Status}}</span>` +
	`{{if .Tx}} <span class="tx">{{.Tx}}</span>{{end}}</div>
`))

type eventRow struct {
	Time    string
	Bot     string
	Latency int
	Class   string
	Status  string
	Tx      string
}

func newEventRow(e store.Event) eventRow {
	row := eventRow{
		Time:    e.Timestamp.UTC().Format("15:04:05"),
		Bot:     e.BotName,
		Latency: e.LatencyMs,
		Class:   "ok",
		Status:  "OK",
		Tx:      e.TxHash,
	}
	if !e.Succeeded() {
		row.Status = strings.ToUpper(nz(e.Status, "error"))
		row.Class = "err"
		if e.Status == store.StatusWarning {
			row.Class = "warn"
		}
	}
	return row
}

// handleEventStream streams every stored event as an HTML row, then new
// events as they arrive.
func (r *Runner) handleEventStream(w http.ResponseWriter, req *http.Request) {
	rc := startHTMLStream(w, "event-stream-start")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var cursor uint64
	for {
		var events []store.Event
		events, cursor = r.store.Since(cursor)
		for _, e := range events {
			if err := eventRowTmpl.Execute(w, newEventRow(e)); err != nil {
				return
			}
		}
		if len(events) > 0 {
			if err := rc.Flush(); err != nil {
				return
			}
		}

		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// handleMiniChart streams the newest latency, in seconds, as a chart bar.
func (r *Runner) handleMiniChart(w http.ResponseWriter, req *http.Request) {
	rc := startHTMLStream(w, "charts-mini-start")
	interval := r.liveConfig.Get().Stream.MiniChartInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if latest, ok := r.store.Latest(); ok {
			v := float64(latest.LatencyMs) / 1000
			if _, err := fmt.Fprintf(w, "<li style=\"--size: %.3f;\">%.3fs</li>\n", v, v); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

var logRowTmpl = template.Must(template.New("log").Parse(`<div class="log-entry">` +
	`<span class="ts">{{.Time}}</span> ` +
	`<span class="bot">{{.Bot}}</span> ` +
	`<span class="lat">{{.Latency}}ms</span>` +
	`{{if .Error}} <span class="err">{{.Error}}</span>{{end}}</div>
`))

type logRow struct {
	Time    string
	Bot     string
	Latency int
	Error   string
}

var demoBots = []string{"arb-scout", "mev-bot", "price-bot", "trade-executor"}

// handleLogStream renders new lines of the configured JSONL log as HTML.
// Without a readable log it streams ten demo rows.
func (r *Runner) handleLogStream(w http.ResponseWriter, req *http.Request) {
	rc := startHTMLStream(w, "logs-stream-start")
	path := r.liveConfig.Get().Data.LogPath

	f, err := os.Open(path)
	if path == "" || err != nil {
		for i := 0; i < 10; i++ {
			row := logRow{
				Time:    r.now().UTC().Format("15:04:05"),
				Bot:     demoBots[rand.IntN(len(demoBots))],
				Latency: 50 + rand.IntN(451),
			}
			if err := logRowTmpl.Execute(w, row); err != nil {
				return
			}
			_ = rc.Flush()
			select {
			case <-req.Context().Done():
				return
			case <-time.After(time.Second):
			}
		}
		return
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		fmt.Fprintf(w, "<!-- Error reading log file: %s -->\n", template.HTMLEscapeString(err.Error()))
		return
	}

	reader := bufio.NewReader(f)
	var partial []byte
	for {
		line, err := reader.ReadBytes('\n')
		partial = append(partial, line...)
		if err != nil {
			select {
			case <-req.Context().Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		var obj map[string]any
		raw := partial
		partial = nil
		if json.Unmarshal(raw, &obj) != nil {
			continue
		}
		e, err := ingest.ParseEvent(obj, r.now())
		if err != nil {
			continue
		}
		row := logRow{
			Time:    e.Timestamp.UTC().Format("15:04:05"),
			Bot:     e.BotName,
			Latency: e.LatencyMs,
			Error:   e.Error,
		}
		if err := logRowTmpl.Execute(w, row); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>botwatch</title>
<style>
  :root { --bg:#0d1117; --panel:#161b22; --border:#30363d; --text:#c9d1d9; --muted:#8b949e;
          --ok:#3fb950; --warn:#d29922; --crit:#f85149; --accent:#58a6ff; }
  * { box-sizing: border-box; }
  body { margin:0; font-family: ui-monospace, SFMono-Regular, Menlo, monospace; background:var(--bg); color:var(--text); }
  header { display:flex; justify-content:space-between; align-items:center; padding:12px 20px; border-bottom:1px solid var(--border); }
  header h1 { font-size:16px; margin:0; }
  header a { color:var(--accent); font-size:12px; margin-left:12px; }
  main { padding:20px; display:grid; gap:16px; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); }
  .panel { background:var(--panel); border:1px solid var(--border); border-radius:6px; padding:14px; }
  .panel h2 { font-size:12px; text-transform:uppercase; color:var(--muted); margin:0 0 10px; }
  .kpis { display:grid; grid-template-columns: repeat(4, 1fr); gap:10px; grid-column: 1 / -1; }
  .kpi .v { font-size:24px; }
  .kpi .l { font-size:11px; color:var(--muted); }
  table { width:100%; border-collapse:collapse; font-size:12px; }
  th, td { text-align:left; padding:4px 6px; border-bottom:1px solid var(--border); }
  .ok { color:var(--ok); } .warn { color:var(--warn); } .err { color:var(--crit); }
  #mini { list-style:none; display:flex; align-items:flex-end; gap:2px; height:80px; padding:0; margin:0; overflow:hidden; }
  #mini li { flex:0 0 6px; height:calc(var(--size) * 100%); background:var(--accent); font-size:0; }
  #events { max-height:280px; overflow:auto; font-size:12px; }
  #events .ts, #events .tx { color:var(--muted); }
  .status { font-size:11px; color:var(--muted); }
</style>
</head>
<body>
<header>
  <h1>botwatch</h1>
  <div><span class="status" id="conn">connecting…</span><a href="/settings">settings</a><a href="/metrics">metrics</a></div>
</header>
<main>
  <section class="kpis">
    <div class="panel kpi"><div class="v" id="k-lat">—</div><div class="l">avg latency (ms)</div></div>
    <div class="panel kpi"><div class="v" id="k-sr">—</div><div class="l">success rate (1m)</div></div>
    <div class="panel kpi"><div class="v" id="k-thr">—</div><div class="l">throughput (1m)</div></div>
    <div class="panel kpi"><div class="v" id="k-pr">—</div><div class="l">avg profit</div></div>
  </section>
  <section class="panel">
    <h2>Latency</h2>
    <ul id="mini"></ul>
  </section>
  <section class="panel">
    <h2>Bots</h2>
    <table><thead><tr><th></th><th>bot</th><th>success</th><th>latency</th><th>last seen</th></tr></thead>
    <tbody id="bots"></tbody></table>
  </section>
  <section class="panel">
    <h2>Events</h2>
    <div id="events"></div>
  </section>
  <section class="panel">
    <h2>Recent alerts</h2>
    <table><tbody id="alerts"></tbody></table>
  </section>
</main>
<script>
const $ = (id) => document.getElementById(id);
const esc = (s) => String(s ?? '').replace(/[&<>"']/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[c]));

function renderKPIs(k) {
  $('k-lat').textContent = k.avg_latency_ms;
  $('k-sr').textContent = k.success_rate_pct + '%';
  $('k-thr').textContent = k.throughput_1m;
  $('k-pr').textContent = k.avg_profit;
}

function pushBar(ms) {
  const li = document.createElement('li');
  li.style.setProperty('--size', Math.min(ms / 500, 1).toFixed(3));
  const ul = $('mini');
  ul.appendChild(li);
  while (ul.children.length > 60) ul.removeChild(ul.firstChild);
}

const es = new EventSource('/stream');
es.addEventListener('ping', () => { $('conn').textContent = 'live'; });
es.addEventListener('metrics_update', (ev) => {
  const snap = JSON.parse(ev.data);
  renderKPIs(snap.kpis);
  if (snap.last_events && snap.last_events.length) pushBar(snap.last_events[0].latency_ms);
});
es.onerror = () => { $('conn').textContent = 'reconnecting…'; };

async function refreshBots() {
  try {
    const res = await fetch('/api/bots/status');
    const body = await res.json();
    $('bots').innerHTML = body.bots.map(b =>
      '<tr><td>' + b.indicator + '</td><td>' + esc(b.bot_name) + '</td><td>' + b.success_ratio +
      '%</td><td>' + b.avg_latency + 'ms</td><td>' + new Date(b.last_heartbeat).toLocaleTimeString() + '</td></tr>').join('');
  } catch (e) { /* next poll retries */ }
}
refreshBots();
setInterval(refreshBots, 5000);

const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
ws.onmessage = (msg) => {
  const frame = JSON.parse(msg.data);
  if (frame.type !== 'stats') return;
  renderKPIs(frame.data.store.kpis);
  $('alerts').innerHTML = (frame.data.recent_alerts || []).slice(0, 10).map(a =>
    '<tr><td>' + new Date(a.timestamp).toLocaleTimeString() + '</td><td>' + esc(a.bot_name) +
    '</td><td>' + esc(a.condition || (a.previous_status + ' → ' + a.status)) + '</td></tr>').join('');
};

(async function streamEvents() {
  const res = await fetch('/events');
  const reader = res.body.getReader();
  const dec = new TextDecoder();
  const box = $('events');
  for (;;) {
    const { value, done } = await reader.read();
    if (done) break;
    box.insertAdjacentHTML('afterbegin', dec.decode(value, { stream: true }));
    while (box.children.length > 200) box.removeChild(box.lastChild);
  }
})();
</script>
</body>
</html>
`
