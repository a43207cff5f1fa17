package runtime

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/resflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
)

// PatternInfo describes a registered pattern in the status API.
type PatternInfo struct {
	Pattern      string `json:"pattern"`
	Type         string `json:"type"`
	Capabilities string `json:"capabilities"`
	Group        string `json:"group,omitempty"`
}

// StatusStats is the payload of /api/stats.
type StatusStats struct {
	Service            string          `json:"service"`
	ActiveGroups       int             `json:"active_groups"`
	QueuedTasks        int             `json:"queued_tasks"`
	QuerySubscriptions int             `json:"query_subscriptions"`
	Process            ProcessUsage    `json:"process"`
	Metrics            MetricsSnapshot `json:"metrics"`
}

func (s *Service) startStatusServer() {
	if !s.Conf.StatusEnabled {
		return
	}
	s.RegisterHTTPHandler(s.Conf.StatusPort, "/api/patterns", http.HandlerFunc(s.handleGetPatterns))
	s.RegisterHTTPHandler(s.Conf.StatusPort, "/api/stats", http.HandlerFunc(s.handleGetStats))
}

func (s *Service) startMetricsServer() {
	if !s.Conf.MetricsEnabled {
		return
	}
	handler := promhttp.Handler()
	if g, ok := s.registerer.(prometheus.Gatherer); ok && s.registerer != prometheus.DefaultRegisterer {
		handler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", handler)
}

// Patterns lists the registered patterns. It is empty before Serve.
func (s *Service) Patterns() []PatternInfo {
	tree, _ := s.frozen()
	if tree == nil {
		return []PatternInfo{}
	}
	out := []PatternInfo{}
	tree.Each(func(pattern string, h *Handler) {
		out = append(out, PatternInfo{
			Pattern:      pattern,
			Type:         h.Type.String(),
			Capabilities: h.Capabilities().String(),
			Group:        h.Group,
		})
	})
	return out
}

// Stats returns the live scheduler state and the metrics snapshot.
func (s *Service) Stats() StatusStats {
	st := s.sched.Stats()
	return StatusStats{
		Service:            s.Conf.Name,
		ActiveGroups:       st.ActiveGroups,
		QueuedTasks:        st.QueuedTasks,
		QuerySubscriptions: s.queries.Len(),
		Process:            s.process.Sample(),
		Metrics:            s.metrics.GetSnapshot(),
	}
}

func (s *Service) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, s.Patterns())
}

func (s *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, s.Stats())
}

func (s *Service) writeStatus(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")

	// Set CORS headers based on configuration
	if len(s.Conf.StatusCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	// Handle preflight requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := jsoncodec.Marshal(v)
	if err != nil {
		s.Logger.Error("Failed to encode status", err, loggingpkg.LogFields{"path": r.URL.Path})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
