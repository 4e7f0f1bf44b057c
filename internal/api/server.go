package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	mw "github.com/edvin/fleetmon/internal/api/middleware"
	"github.com/edvin/fleetmon/internal/api/response"
	"github.com/edvin/fleetmon/internal/monitor"
)

// SnapshotSource is the read-only view of the control loop the status API
// serves from. Handlers never touch fleet state directly.
type SnapshotSource interface {
	Snapshot() monitor.Snapshot
	Ready() bool
}

type Server struct {
	router chi.Router
	logger zerolog.Logger
	source SnapshotSource
}

func NewServer(logger zerolog.Logger, source SnapshotSource) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		source: source,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/addresses", s.handleAddresses)
		r.Get("/instances", s.handleInstances)
		r.Get("/report", s.handleReport)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready once the control loop has completed its first
// fleet fetch.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.source.Ready() {
		response.WriteError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStatus summarizes the loop: where the window scheduler stands, how
// big the fleet is, and how many instances the last report flagged.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Snapshot()
	status := map[string]any{
		"scheduler_state": snap.SchedulerState,
		"instance_count":  len(snap.Instances),
		"fetched_at":      snap.UpdatedAt,
	}
	if snap.LastReport != nil {
		status["over_threshold"] = snap.LastReport.OverThresholdCount()
		status["last_report_id"] = snap.LastReport.ID
	}
	response.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleAddresses(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Snapshot()
	addresses := make([]string, 0, len(snap.Addresses))
	for _, a := range snap.Addresses {
		addresses = append(addresses, a.String())
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"addresses":  addresses,
		"fetched_at": snap.UpdatedAt,
	})
}

type instanceView struct {
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Address    string  `json:"address,omitempty"`
	ClassName  string  `json:"class_name"`
	Location   string  `json:"location"`
	UsageRatio float64 `json:"usage_ratio"`
}

func (s *Server) handleInstances(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Snapshot()
	views := make([]instanceView, 0, len(snap.Instances))
	for _, inst := range snap.Instances {
		views = append(views, instanceView{
			Name:       inst.Name,
			Status:     inst.Status,
			Address:    inst.Address,
			ClassName:  inst.ClassName,
			Location:   inst.Location,
			UsageRatio: inst.UsageRatio(),
		})
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"instances":  views,
		"fetched_at": snap.UpdatedAt,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Snapshot()
	if snap.LastReport == nil {
		response.WriteError(w, http.StatusNotFound, "no report yet")
		return
	}
	response.WriteJSON(w, http.StatusOK, snap.LastReport)
}
