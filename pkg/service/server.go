package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quillsign/signsync-go/pkg/events"
	"github.com/quillsign/signsync-go/pkg/signatures"
	"github.com/quillsign/signsync-go/pkg/statecache"
	"github.com/quillsign/signsync-go/pkg/store"
	"github.com/quillsign/signsync-go/pkg/types"
	"github.com/quillsign/signsync-go/pkg/workflow"
)

/*
Server exposes the signature synchronizer over HTTP for UI consumers and
test harnesses.

Query endpoints:
  GET /contracts/{id}/signatures        - both party records (signing order)
  GET /contracts/{id}/signatures/state  - cached SignatureState snapshot
  GET /contracts/{id}/can-edit          - edit-lock decision with reason
  GET /contracts/{id}/stage             - workflow stage bookmark

Command endpoints:
  POST   /contracts/{id}/signatures/{party}  - sign ({signatureImage, signerName})
  DELETE /contracts/{id}/signatures/{party}  - unsign
  POST   /contracts/{id}/invalidate          - drop the cached snapshot
  PUT    /contracts/{id}/content             - save draft content ({content})
  POST   /contracts/{id}/stage/advance       - edit -> sign -> send
  POST   /contracts/{id}/stage/back          - send -> sign, sign -> edit (gated)
  POST   /contracts/{id}/watch               - start auto-refresh polling

Blocked transitions return 409 with the gating reason; the unsign-prompt
event still fires on the in-process bus for subscribed consumers.
*/

// Server handles HTTP requests for the synchronizer.
type Server struct {
	manager    *signatures.Manager
	cache      *statecache.SignatureStateCache
	navigator  *workflow.Navigator
	local      store.ISignatureStore
	bus        *events.Bus
	logger     *zap.Logger
	httpServer *http.Server

	// Auto-refresh watchers, one per contract, bound to the server lifetime.
	refreshInterval time.Duration
	watchCtx        context.Context
	watchCancel     context.CancelFunc
	watchMu         sync.Mutex
	watched         map[string]bool
}

// NewServer creates a new server instance. refreshInterval <= 0 disables
// the watch endpoint.
func NewServer(manager *signatures.Manager, cache *statecache.SignatureStateCache, navigator *workflow.Navigator, local store.ISignatureStore, bus *events.Bus, logger *zap.Logger, port int, refreshInterval time.Duration) *Server {
	watchCtx, watchCancel := context.WithCancel(context.Background())

	s := &Server{
		manager:         manager,
		cache:           cache,
		navigator:       navigator,
		local:           local,
		bus:             bus,
		logger:          logger,
		refreshInterval: refreshInterval,
		watchCtx:        watchCtx,
		watchCancel:     watchCancel,
		watched:         make(map[string]bool),
	}

	mux := http.NewServeMux()

	// Query endpoints
	mux.HandleFunc("GET /contracts/{id}/signatures", s.handleListSignatures)
	mux.HandleFunc("GET /contracts/{id}/signatures/state", s.handleSignatureState)
	mux.HandleFunc("GET /contracts/{id}/can-edit", s.handleCanEdit)
	mux.HandleFunc("GET /contracts/{id}/stage", s.handleGetStage)

	// Command endpoints
	mux.HandleFunc("POST /contracts/{id}/signatures/{party}", s.handleSign)
	mux.HandleFunc("DELETE /contracts/{id}/signatures/{party}", s.handleUnsign)
	mux.HandleFunc("POST /contracts/{id}/invalidate", s.handleInvalidate)
	mux.HandleFunc("PUT /contracts/{id}/content", s.handleSaveContent)
	mux.HandleFunc("POST /contracts/{id}/stage/advance", s.handleStageAdvance)
	mux.HandleFunc("POST /contracts/{id}/stage/back", s.handleStageBack)
	mux.HandleFunc("POST /contracts/{id}/watch", s.handleWatch)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Sugar().Infow("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server and its watchers.
func (s *Server) Stop(ctx context.Context) error {
	s.watchCancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Sugar().Warnw("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// source identifies the acting consumer in published events.
func source(r *http.Request) string {
	if src := r.URL.Query().Get("source"); src != "" {
		return src
	}
	return "api"
}

func (s *Server) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("id")

	records := make([]*types.SignatureRecord, 0, 2)
	for _, party := range types.Parties() {
		record, err := s.manager.GetSignature(contractID, party)
		if err != nil {
			s.writeError(w, http.StatusBadGateway, err)
			return
		}
		if record != nil {
			records = append(records, record)
		}
	}

	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSignatureState(w http.ResponseWriter, r *http.Request) {
	state := s.cache.GetSignatureState(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCanEdit(w http.ResponseWriter, r *http.Request) {
	result := s.cache.CanEditContract(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, result)
}

type signRequest struct {
	SignatureImage string `json:"signatureImage"`
	SignerName     string `json:"signerName"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("id")
	party := types.Party(r.PathValue("party"))
	if err := party.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	record, err := s.manager.SaveSignature(contractID, party, req.SignatureImage, req.SignerName, source(r))
	if err != nil {
		// Write failures are user-visible, not silently degraded.
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleUnsign(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("id")
	party := types.Party(r.PathValue("party"))
	if err := party.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.manager.RemoveSignature(contractID, party, source(r)); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	s.cache.Invalidate(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

type contentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSaveContent(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("id")

	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := s.local.SaveContent(contractID, req.Content); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type stageResponse struct {
	ContractID string      `json:"contractId"`
	Stage      types.Stage `json:"stage"`
	Reason     string      `json:"reason,omitempty"`
}

func (s *Server) handleGetStage(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("id")

	stage, err := s.navigator.Stage(contractID)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	s.writeJSON(w, http.StatusOK, stageResponse{ContractID: contractID, Stage: stage})
}

func (s *Server) handleStageAdvance(w http.ResponseWriter, r *http.Request) {
	s.handleStageChange(w, r, s.navigator.Advance)
}

func (s *Server) handleStageBack(w http.ResponseWriter, r *http.Request) {
	s.handleStageChange(w, r, s.navigator.Back)
}

func (s *Server) handleStageChange(w http.ResponseWriter, r *http.Request, move func(string, string) (types.Stage, error)) {
	contractID := r.PathValue("id")

	stage, err := move(contractID, source(r))
	if err != nil {
		switch errors.Cause(err) {
		case workflow.ErrEmptyContent, workflow.ErrMissingDesignerSignature,
			workflow.ErrContractSigned, workflow.ErrTerminalStage:
			s.writeJSON(w, http.StatusConflict, stageResponse{
				ContractID: contractID,
				Stage:      stage,
				Reason:     err.Error(),
			})
		default:
			s.writeError(w, http.StatusBadGateway, err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, stageResponse{ContractID: contractID, Stage: stage})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("id")

	if s.refreshInterval <= 0 {
		s.writeError(w, http.StatusConflict, fmt.Errorf("auto-refresh is disabled"))
		return
	}

	s.watchMu.Lock()
	already := s.watched[contractID]
	if !already {
		s.watched[contractID] = true
	}
	s.watchMu.Unlock()

	if !already {
		s.cache.StartAutoRefresh(s.watchCtx, s.bus, contractID, s.refreshInterval)
		s.logger.Sugar().Infow("Auto-refresh watcher started",
			"contractId", contractID, "interval", s.refreshInterval)
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.local.HealthCheck(); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
