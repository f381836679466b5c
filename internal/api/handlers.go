package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowsim/flowsim/internal/core"
	"github.com/flowsim/flowsim/internal/diagnostics"
)

func (s *Server) handleRealTimeMetrics(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.monitor.GetRealTimeMetrics())
}

func (s *Server) handleIssues(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"issues": s.monitor.DetectPerformanceIssues(),
	})
}

func (s *Server) handleBottlenecks(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bottlenecks": s.monitor.AnalyzeBottlenecks(),
	})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"opportunities": s.monitor.IdentifyOptimizationOpportunities(),
	})
}

func (s *Server) handleStages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stages": s.monitor.Stages(),
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, _ *http.Request) {
	tracer := s.monitor.Tracer()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"timeline":   tracer.Timeline(),
		"statistics": tracer.Statistics(),
	})
}

// handleProcessStatus reports one pid; unknown pids answer 404 with the
// not_found status as body.
func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "pid")
	pid, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || pid <= 0 {
		respondDomainError(w, core.ErrInvalidInput("pid", raw))
		return
	}

	status := s.monitor.Sampler().GetProcessStatus(int32(pid))
	code := http.StatusOK
	if status.State == diagnostics.ProcessNotFound {
		code = http.StatusNotFound
	}
	respondJSON(w, code, status)
}

// handleReport builds a report from everything collected so far.
// ?format=yaml returns YAML; JSON is the default.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = diagnostics.FormatJSON
	}
	format, err := diagnostics.NormalizeFormat(format)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	report := s.monitor.GeneratePerformanceReport(r.Context())
	data, err := report.Marshal(format)
	if err != nil {
		s.logger.Error("failed to encode report", "error", err)
		respondDomainError(w, err)
		return
	}

	contentType := "application/json"
	if format == diagnostics.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.probe == nil {
		respondError(w, http.StatusServiceUnavailable, "health probe not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.probe.RunComprehensiveHealthCheck(r.Context()))
}
