// Package server provides the HTTP API for the scheduling core.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dripfeed/internal/database"
	"dripfeed/internal/drip"
	"dripfeed/internal/health"
	"dripfeed/internal/model"
	"dripfeed/internal/progress"
	"dripfeed/internal/sources"
)

// Server is the main HTTP server.
type Server struct {
	db         database.Store
	scheduler  *drip.Scheduler
	monitor    *progress.Monitor
	tracker    *progress.Tracker
	thresholds health.Thresholds
	router     chi.Router
	log        zerolog.Logger

	// publishLimiter guards the operator-facing emergency publish. The
	// operation is idempotent, so throttling repeat calls is safe.
	publishLimiter *rate.Limiter
}

// New creates a new server.
func New(db database.Store, scheduler *drip.Scheduler, monitor *progress.Monitor, tracker *progress.Tracker, publishPerMinute int, log zerolog.Logger) *Server {
	s := &Server{
		db:             db,
		scheduler:      scheduler,
		monitor:        monitor,
		tracker:        tracker,
		thresholds:     health.DefaultThresholds(),
		log:            log,
		publishLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(publishPerMinute)), publishPerMinute),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Post("/", s.handleCreateSource)
			r.Get("/{sourceID}/availability", s.handleAvailability)
			r.Post("/{sourceID}/activate", s.handleSetActive(true))
			r.Post("/{sourceID}/deactivate", s.handleSetActive(false))
			r.Post("/{sourceID}/poll-started", s.handlePollStarted)
			r.Post("/{sourceID}/poll-result", s.handlePollResult)
		})
		r.Route("/topics/{topicID}", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Get("/drip", s.handleGetDrip)
			r.Put("/drip", s.handleSaveDrip)
			r.Post("/items", s.handleEnqueue)
			r.Get("/queue", s.handleQueue)
			r.Post("/schedule", s.handleSchedule)
			r.Post("/publish-all", s.handlePublishAll)
			r.Get("/progress/{jobID}", s.handleProgress)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleStartJob)
			r.Post("/{jobID}/complete", s.handleCompleteJob)
		})
	})

	s.router = r
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the server until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("http server starting")
	return http.ListenAndServe(addr, s.router)
}

// --- Source Handlers ---

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TopicID       int64   `json:"topic_id"`
		Name          string  `json:"name"`
		FeedURL       string  `json:"feed_url"`
		CooldownHours float64 `json:"cooldown_hours"`
		IsCritical    bool    `json:"is_critical"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.TopicID == 0 {
		http.Error(w, "topic_id and name are required", http.StatusBadRequest)
		return
	}
	if req.CooldownHours <= 0 {
		http.Error(w, "cooldown_hours must be positive", http.StatusBadRequest)
		return
	}

	src := &model.ContentSource{
		TopicID:       req.TopicID,
		Name:          req.Name,
		FeedURL:       req.FeedURL,
		CooldownHours: req.CooldownHours,
		IsActive:      true,
		IsCritical:    req.IsCritical,
	}
	id, err := s.db.CreateSource(src)
	if err != nil {
		s.log.Error().Err(err).Msg("create source")
		http.Error(w, "Failed to create source", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	src, ok := s.loadSource(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sources.Evaluate(*src, time.Now().UTC()))
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "sourceID")
		if !ok {
			return
		}
		if err := s.db.SetSourceActive(id, active); err != nil {
			s.storeError(w, err, "update source")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	}
}

func (s *Server) handlePollStarted(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "sourceID")
	if !ok {
		return
	}
	if err := s.db.MarkPollStarted(id, time.Now().UTC()); err != nil {
		s.storeError(w, err, "mark poll started")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handlePollResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "sourceID")
	if !ok {
		return
	}
	var req struct {
		OK    bool  `json:"ok"`
		Items int64 `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	var err error
	if req.OK {
		err = s.db.RecordPollSuccess(id, now, req.Items)
	} else {
		// A transient failure is recorded, aggregated into health, and
		// never fails the gathering run.
		err = s.db.RecordPollFailure(id, now)
	}
	if err != nil {
		s.storeError(w, err, "record poll result")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// --- Topic Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	topicID, ok := s.pathID(w, r, "topicID")
	if !ok {
		return
	}

	now := time.Now().UTC()
	srcs, err := s.db.GetSources(topicID)
	if err != nil {
		s.writeJSON(w, http.StatusOK, health.Degraded(err))
		return
	}
	thisWeek, lastWeek, err := s.db.WeeklyItemCounts(topicID, now)
	if err != nil {
		s.writeJSON(w, http.StatusOK, health.Degraded(err))
		return
	}

	snap := health.Classify(health.Input{
		Sources:       srcs,
		ThisWeekCount: thisWeek,
		LastWeekCount: lastWeek,
	}, now, s.thresholds)
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetDrip(w http.ResponseWriter, r *http.Request) {
	topicID, ok := s.pathID(w, r, "topicID")
	if !ok {
		return
	}
	cfg, err := s.db.GetDripConfig(topicID)
	if err != nil {
		s.storeError(w, err, "get drip config")
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSaveDrip(w http.ResponseWriter, r *http.Request) {
	topicID, ok := s.pathID(w, r, "topicID")
	if !ok {
		return
	}
	var cfg model.TopicDripConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	cfg.TopicID = topicID
	if err := drip.ValidateConfig(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.db.SaveDripConfig(cfg); err != nil {
		s.storeError(w, err, "save drip config")
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	topicID, ok := s.pathID(w, r, "topicID")
	if !ok {
		return
	}
	var req struct {
		Title   string     `json:"title"`
		ReadyAt *time.Time `json:"ready_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	item := &model.QueuedItem{TopicID: topicID, Title: req.Title}
	if req.ReadyAt != nil {
		item.ReadyAt = req.ReadyAt.UTC()
	}
	id, err := s.db.EnqueueItem(item)
	if err != nil {
		s.storeError(w, err, "enqueue item")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "ready_at": item.ReadyAt})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	topicID, ok := s.pathID(w, r, "topicID")
	if !ok {
		return
	}
	items, err := s.db.QueuedItems(topicID)
	if err != nil {
		s.storeError(w, err, "load queue")
		return
	}

	type queuedItem struct {
		ID                 int64      `json:"id"`
		Title              string     `json:"title"`
		ReadyAt            time.Time  `json:"ready_at"`
		ScheduledPublishAt *time.Time `json:"scheduled_publish_at"`
	}
	out := make([]queuedItem, 0, len(items))
	for _, it := range items {
		out = append(out, queuedItem{
			ID:                 it.ID,
			Title:              it.Title,
			ReadyAt:            it.ReadyAt,
			ScheduledPublishAt: it.ScheduledPublishAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": out})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	topicID, ok := s.pathID(w, r, "topicID")
	if !ok {
		return
	}
	res, err := s.scheduler.ScheduleReleases(r.Context(), topicID)
	if err != nil {
		if errors.Is(err, drip.ErrInvalidConfig) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error().Err(err).Int64("topic", topicID).Msg("scheduling pass")
		http.Error(w, "Scheduling failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePublishAll(w http.ResponseWriter, r *http.Request) {
	topicID, ok := s.pathID(w, r, "topicID")
	if !ok {
		return
	}
	if !s.publishLimiter.Allow() {
		http.Error(w, "Too many emergency publishes, retry shortly", http.StatusTooManyRequests)
		return
	}
	released, err := s.scheduler.PublishAll(r.Context(), topicID)
	if err != nil {
		s.log.Error().Err(err).Int64("topic", topicID).Msg("emergency publish")
		http.Error(w, "Publish failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items_released": released})
}

// --- Job Handlers ---

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TopicID int64 `json:"topic_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TopicID == 0 {
		http.Error(w, "topic_id is required", http.StatusBadRequest)
		return
	}
	id := s.tracker.StartJob(req.TopicID)
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"job_id": id.String()})
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}
	if !s.tracker.CompleteJob(jobID) {
		http.Error(w, "Unknown job", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	topicID, ok := s.pathID(w, r, "topicID")
	if !ok {
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	snap, err := s.monitor.Snapshot(jobID, topicID)
	if errors.Is(err, progress.ErrUnknownJob) {
		http.Error(w, "Unknown job", http.StatusNotFound)
		return
	}
	if err != nil {
		// Progress is a best-effort snapshot; report the failure inline
		// rather than blocking the observer with an error status.
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"percent": 0, "per_source": []progress.SourceProgress{}, "error": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) loadSource(w http.ResponseWriter, r *http.Request) (*model.ContentSource, bool) {
	id, ok := s.pathID(w, r, "sourceID")
	if !ok {
		return nil, false
	}
	src, err := s.db.GetSource(id)
	if err != nil {
		s.storeError(w, err, "load source")
		return nil, false
	}
	return src, true
}

func (s *Server) storeError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.log.Error().Err(err).Msg(op)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
