package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/events"
	"github.com/gaganv007/polkaagents/internal/service"
)

type Server struct {
	marketplace *service.MarketplaceService
	hub         *events.Hub
	logger      *slog.Logger
}

// NewServer exposes the read side of the marketplace as JSON and streams
// registry events over /api/events when hub is non-nil.
func NewServer(addr string, marketplace *service.MarketplaceService, hub *events.Hub, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{marketplace: marketplace, hub: hub, logger: logger}
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(dashboardPageHTML))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, s.marketplace.Health())
	})
	mux.HandleFunc("GET /api/summary", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, s.marketplace.Summary())
	})
	mux.HandleFunc("GET /api/config", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, s.marketplace.PlatformConfig())
	})
	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		activeOnly := false
		if raw := strings.TrimSpace(query.Get("active_only")); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				s.writeError(w, domain.InvalidArgument("active_only must be a boolean"))
				return
			}
			activeOnly = parsed
		}
		agents, err := s.marketplace.ListAgents(service.ListAgentsRequest{
			Category:   query.Get("category"),
			Owner:      query.Get("owner"),
			ActiveOnly: activeOnly,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, agents)
	})
	mux.HandleFunc("GET /api/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseAgentID(r.PathValue("id"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		agent, err := s.marketplace.GetAgent(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, agent)
	})
	mux.HandleFunc("GET /api/agents/{id}/interactions", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseAgentID(r.PathValue("id"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.marketplace.ListAgentInteractions(id))
	})
	mux.HandleFunc("GET /api/interactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		raw, err := strconv.ParseUint(strings.TrimSpace(r.PathValue("id")), 10, 64)
		if err != nil {
			s.writeError(w, domain.InvalidArgument("interaction id must be an unsigned integer"))
			return
		}
		interaction, err := s.marketplace.GetInteraction(domain.InteractionID(raw))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, interaction)
	})
	mux.HandleFunc("GET /api/users/{user}/interactions", func(w http.ResponseWriter, r *http.Request) {
		list, err := s.marketplace.ListUserInteractions(domain.Identity(r.PathValue("user")))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, list)
	})
	if s.hub != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}
	return mux
}

func parseAgentID(raw string) (domain.AgentID, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, domain.InvalidArgument("agent id must be an unsigned 32-bit integer")
	}
	return domain.AgentID(parsed), nil
}

func statusFor(err error) int {
	var appErr *domain.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict, domain.CodeAborted:
		return http.StatusConflict
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	body := map[string]any{"error": err.Error()}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		body["code"] = appErr.Code
		if appErr.Kind != "" {
			body["kind"] = appErr.Kind
		}
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("http request failed", "error", err)
		body = map[string]any{"error": "internal server error"}
	}
	s.writeJSON(w, code, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("http json encode error", "error", err)
	}
}

const dashboardPageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>PolkaAgents</title>
  <style>
    :root { --bg: #0f1020; --card: #1a1b33; --line: #34365c; --text: #eceefe; --muted: #a3a6cc; --accent: #e6007a; }
    * { box-sizing: border-box; }
    body { margin: 0; background: var(--bg); color: var(--text); font-family: system-ui, sans-serif; }
    .shell { max-width: 1080px; margin: 0 auto; padding: 24px 16px; }
    h1 { margin: 0 0 16px; font-size: 1.6rem; }
    h1 span { color: var(--accent); }
    .cards { display: grid; grid-template-columns: repeat(4, minmax(0, 1fr)); gap: 10px; margin-bottom: 16px; }
    .card { background: var(--card); border: 1px solid var(--line); border-radius: 10px; padding: 12px; }
    .card b { display: block; font-size: 1.4rem; }
    .card small { color: var(--muted); }
    table { width: 100%; border-collapse: collapse; background: var(--card); border-radius: 10px; overflow: hidden; }
    th, td { text-align: left; padding: 8px 10px; border-bottom: 1px solid var(--line); font-size: 14px; }
    th { color: var(--muted); font-weight: 600; }
    #feed { margin-top: 16px; font-family: ui-monospace, monospace; font-size: 12px; color: var(--muted); max-height: 220px; overflow: auto; }
  </style>
</head>
<body>
  <div class="shell">
    <h1>Polka<span>Agents</span> marketplace</h1>
    <div class="cards">
      <div class="card"><small>agents</small><b id="agents">-</b></div>
      <div class="card"><small>active</small><b id="active">-</b></div>
      <div class="card"><small>interactions</small><b id="interactions">-</b></div>
      <div class="card"><small>fees paid</small><b id="fees">-</b></div>
    </div>
    <table>
      <thead><tr><th>id</th><th>name</th><th>category</th><th>owner</th><th>price</th><th>stake</th><th>active</th></tr></thead>
      <tbody id="rows"></tbody>
    </table>
    <div id="feed"></div>
  </div>
  <script>
    async function refresh() {
      const summary = await (await fetch('/api/summary')).json();
      document.getElementById('agents').textContent = summary.counts.agents;
      document.getElementById('active').textContent = summary.counts.active_agents;
      document.getElementById('interactions').textContent = summary.counts.interactions;
      document.getElementById('fees').textContent = summary.totals.fees_paid;
      const agents = await (await fetch('/api/agents')).json();
      const rows = document.getElementById('rows');
      rows.innerHTML = '';
      for (const agent of agents) {
        const tr = document.createElement('tr');
        for (const value of [agent.agent_id, agent.metadata.name, agent.metadata.category, agent.owner, agent.price_per_query, agent.stake_amount, agent.active]) {
          const td = document.createElement('td');
          td.textContent = value;
          tr.appendChild(td);
        }
        rows.appendChild(tr);
      }
    }
    function stream() {
      const scheme = location.protocol === 'https:' ? 'wss' : 'ws';
      const socket = new WebSocket(scheme + '://' + location.host + '/api/events');
      socket.onmessage = (message) => {
        const envelope = JSON.parse(message.data);
        const line = document.createElement('div');
        line.textContent = envelope.emitted_at + ' ' + envelope.kind + ' ' + envelope.topics.join(',');
        const feed = document.getElementById('feed');
        feed.prepend(line);
        refresh();
      };
      socket.onclose = () => setTimeout(stream, 3000);
    }
    refresh();
    stream();
  </script>
</body>
</html>
`
