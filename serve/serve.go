// Package serve exposes the consent engine over HTTP (chi) and MCP. The HTTP
// surface is the integration point for banner frontends and server-side
// template pipelines; the MCP surface exposes the same operations as tools.
package serve

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/consentgate/config"
	"github.com/hazyhaar/consentgate/consent"
	"github.com/hazyhaar/consentgate/gate"
	"github.com/hazyhaar/consentgate/kit"
	"github.com/hazyhaar/consentgate/signal"
)

// maxGateBody bounds the HTML document accepted by the gate endpoint.
const maxGateBody = 8 << 20

// Service wires the engine, configuration, and data layer into handlers.
type Service struct {
	engine    *consent.Engine
	dataLayer *signal.DataLayer
	logger    *slog.Logger

	mu  sync.RWMutex
	cfg *config.Config
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDataLayer exposes the shared event queue on /v1/events.
func WithDataLayer(dl *signal.DataLayer) ServiceOption {
	return func(s *Service) { s.dataLayer = dl }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates the HTTP/MCP service over an engine and its
// configuration.
func NewService(engine *consent.Engine, cfg *config.Config, opts ...ServiceOption) *Service {
	s := &Service{
		engine: engine,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// UpdateConfig swaps the active configuration. The reload watcher calls this
// after a successful re-read; the engine is reconciled separately via
// SetCategories.
func (s *Service) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Router builds the chi router with the full v1 surface.
func (s *Service) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/categories", s.handleCategories)
		r.Post("/consent", s.handleSet)
		r.Post("/consent/batch", s.handleBatch)
		r.Post("/consent/accept-all", s.handleAcceptAll)
		r.Post("/consent/reject-nonessential", s.handleRejectNonEssential)
		r.Post("/version", s.handleUpdateVersion)
		r.Get("/version/mismatch", s.handleVersionMismatch)
		r.Post("/gate", s.handleGate)
		r.Post("/clear", s.handleClear)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// sourceContext tags the request context with the mutation source. Banner
// frontends identify themselves via the X-Consent-Source header.
func sourceContext(r *http.Request) *http.Request {
	src := r.Header.Get("X-Consent-Source")
	if src == "" {
		src = "http"
	}
	return r.WithContext(kit.WithSource(r.Context(), src))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// stateResponse is the record snapshot plus derived flags.
type stateResponse struct {
	Version         string            `json:"version"`
	Choices         map[string]string `json:"choices"`
	Timestamp       int64             `json:"timestamp"`
	Interacted      bool              `json:"interacted"`
	ReloadSuggested bool              `json:"reload_suggested,omitempty"`
}

func (s *Service) stateResponse(reloadHint bool) stateResponse {
	rec := s.engine.Snapshot()
	resp := stateResponse{
		Version:    rec.Version,
		Choices:    make(map[string]string, len(rec.Choices)),
		Timestamp:  rec.Timestamp,
		Interacted: rec.Interacted(),
	}
	for k, v := range rec.Choices {
		resp.Choices[k] = string(v)
	}
	if reloadHint {
		resp.ReloadSuggested = s.engine.ShouldReload(true)
	}
	return resp
}

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateResponse(false))
}

// categoriesResponse is the banner payload: the sanitized inventory plus the
// fingerprint visitors acknowledge.
type categoriesResponse struct {
	Version    string            `json:"version"`
	Categories []config.Category `json:"categories"`
}

func (s *Service) handleCategories(w http.ResponseWriter, _ *http.Request) {
	cfg := s.config()
	writeJSON(w, http.StatusOK, categoriesResponse{
		Version:    cfg.Version(),
		Categories: cfg.Categories,
	})
}

type setRequest struct {
	Category string `json:"category"`
	Choice   string `json:"choice"`
}

type mutationResponse struct {
	Changed bool          `json:"changed"`
	State   stateResponse `json:"state"`
}

func (s *Service) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Category == "" || !consent.Choice(req.Choice).Valid() {
		http.Error(w, "category and choice (granted|denied) required", http.StatusBadRequest)
		return
	}

	r = sourceContext(r)
	changed := s.engine.Set(r.Context(), req.Category, consent.Choice(req.Choice))
	writeJSON(w, http.StatusOK, mutationResponse{Changed: changed, State: s.stateResponse(true)})
}

type batchRequest struct {
	Choices map[string]string `json:"choices"`
}

func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Choices) == 0 {
		http.Error(w, "choices required", http.StatusBadRequest)
		return
	}

	choices := make(map[string]consent.Choice, len(req.Choices))
	for k, v := range req.Choices {
		choices[k] = consent.Choice(v)
	}

	r = sourceContext(r)
	changed := s.engine.SetMultiple(r.Context(), choices)
	writeJSON(w, http.StatusOK, mutationResponse{Changed: changed, State: s.stateResponse(true)})
}

func (s *Service) handleAcceptAll(w http.ResponseWriter, r *http.Request) {
	r = sourceContext(r)
	changed := s.engine.GrantAll(r.Context())
	writeJSON(w, http.StatusOK, mutationResponse{Changed: changed, State: s.stateResponse(true)})
}

func (s *Service) handleRejectNonEssential(w http.ResponseWriter, r *http.Request) {
	r = sourceContext(r)
	changed := s.engine.RejectNonEssential(r.Context())
	writeJSON(w, http.StatusOK, mutationResponse{Changed: changed, State: s.stateResponse(true)})
}

type versionRequest struct {
	Version string `json:"version"`
}

// handleUpdateVersion acknowledges an inventory fingerprint. An empty body
// version acknowledges the current configuration's fingerprint.
func (s *Service) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Version == "" {
		req.Version = s.config().Version()
	}

	changed := s.engine.UpdateVersion(sourceContext(r).Context(), req.Version)
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "version": req.Version})
}

func (s *Service) handleVersionMismatch(w http.ResponseWriter, r *http.Request) {
	current := r.URL.Query().Get("version")
	if current == "" {
		current = s.config().Version()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mismatch": s.engine.VersionMismatch(current),
		"current":  current,
	})
}

// handleGate rewrites the posted HTML document against the current choices
// and returns it, with the per-pass counts in response headers.
func (s *Service) handleGate(w http.ResponseWriter, r *http.Request) {
	doc, err := gate.Parse(http.MaxBytesReader(w, r.Body, maxGateBody))
	if err != nil {
		http.Error(w, "invalid HTML body", http.StatusBadRequest)
		return
	}

	rec := s.engine.Snapshot()
	res := gate.New(doc, gate.WithLogger(s.logger)).Apply(rec.Choices)

	out, err := doc.HTML()
	if err != nil {
		s.logger.Error("serve: render gated document", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Consent-Enabled", strconv.Itoa(res.Enabled))
	w.Header().Set("X-Consent-Disabled", strconv.Itoa(res.Disabled))
	w.Write([]byte(out))
}

func (s *Service) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Clear(sourceContext(r).Context()); err != nil {
		s.logger.Error("serve: clear", "error", err)
		http.Error(w, "clear failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	if s.dataLayer == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.dataLayer.Events()})
}
