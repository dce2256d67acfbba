package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/orbitctl/orbit/pkg/cluster"
	"github.com/orbitctl/orbit/pkg/log"
	"github.com/orbitctl/orbit/pkg/metrics"
)

// Version is reported on the /health endpoint.
const Version = "1.0.0"

// Server implements the HTTP+JSON Intent API: the sole write path into a
// Cluster's raft log, plus the read endpoints backing orbitctl and the
// agent heartbeat loop.
type Server struct {
	cluster *cluster.Cluster
	mux     *http.ServeMux
	http    *http.Server
}

// NewServer creates a new API server bound to c. Call Start to begin
// serving.
func NewServer(c *cluster.Cluster) *Server {
	s := &Server{
		cluster: c,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/health", instrument("Health", http.HandlerFunc(s.handleHealth)))
	s.mux.Handle("/ready", instrument("Ready", http.HandlerFunc(s.handleReady)))
	s.mux.Handle("/live", instrument("Live", metrics.LivenessHandler()))
	s.mux.Handle("/metrics", metrics.Handler())

	s.mux.Handle("POST /v1/cluster/join", instrument("ClusterJoin", http.HandlerFunc(s.handleClusterJoin)))
	s.mux.Handle("POST /v1/cluster/tokens", instrument("GenerateJoinToken", http.HandlerFunc(s.handleGenerateJoinToken)))
	s.mux.Handle("GET /v1/events", instrument("EventStream", http.HandlerFunc(s.handleEventStream)))

	s.mux.Handle("GET /v1/groups", instrument("ListGroups", http.HandlerFunc(s.handleListGroups)))
	s.mux.Handle("POST /v1/groups", instrument("SubmitGroup", http.HandlerFunc(s.handleSubmitGroup)))
	s.mux.Handle("GET /v1/groups/{id}", instrument("ShowGroup", http.HandlerFunc(s.handleShowGroup)))
	s.mux.Handle("DELETE /v1/groups/{id}", instrument("KillGroup", http.HandlerFunc(s.handleKillGroup)))
	s.mux.Handle("PUT /v1/groups/{id}", instrument("UpdateGroup", http.HandlerFunc(s.handleUpdateGroup)))
	s.mux.Handle("POST /v1/groups/{id}/rollback", instrument("RollbackGroup", http.HandlerFunc(s.handleRollbackGroup)))
	s.mux.Handle("POST /v1/groups/{id}/cancel-update", instrument("CancelUpdate", http.HandlerFunc(s.handleCancelUpdate)))
	s.mux.Handle("POST /v1/groups/{id}/replica", instrument("ChangeReplica", http.HandlerFunc(s.handleChangeReplica)))
	s.mux.Handle("POST /v1/groups/{id}/pause", instrument("PauseUpdate", http.HandlerFunc(s.handlePauseUpdate)))
	s.mux.Handle("POST /v1/groups/{id}/continue", instrument("ContinueUpdate", http.HandlerFunc(s.handleContinueUpdate)))
	s.mux.Handle("POST /v1/groups/{id}/containers/{containerId}/status", instrument("ChangeContainerStatus", http.HandlerFunc(s.handleChangeContainerStatus)))

	s.mux.Handle("POST /v1/quota/check", instrument("QuotaCheck", http.HandlerFunc(s.handleQuotaCheck)))
	s.mux.Handle("GET /v1/users/{user}/alloc", instrument("ShowUserAlloc", http.HandlerFunc(s.handleUserAlloc)))

	s.mux.Handle("GET /v1/agents", instrument("ListAgents", http.HandlerFunc(s.handleListAgents)))
	s.mux.Handle("POST /v1/agents", instrument("AddAgent", http.HandlerFunc(s.handleAddAgent)))
	s.mux.Handle("GET /v1/agents/{endpoint}", instrument("ShowAgent", http.HandlerFunc(s.handleShowAgent)))
	s.mux.Handle("DELETE /v1/agents/{endpoint}", instrument("RemoveAgent", http.HandlerFunc(s.handleRemoveAgent)))
	s.mux.Handle("POST /v1/agents/{endpoint}/tags", instrument("AddTag", http.HandlerFunc(s.handleAddTag)))
	s.mux.Handle("DELETE /v1/agents/{endpoint}/tags/{tag}", instrument("RemoveTag", http.HandlerFunc(s.handleRemoveTag)))
	s.mux.Handle("POST /v1/agents/{endpoint}/pool", instrument("SetPool", http.HandlerFunc(s.handleSetPool)))
	s.mux.Handle("POST /v1/agents/{endpoint}/freeze", instrument("FreezeAgent", http.HandlerFunc(s.handleFreezeAgent)))
	s.mux.Handle("POST /v1/agents/{endpoint}/thaw", instrument("ThawAgent", http.HandlerFunc(s.handleThawAgent)))
	s.mux.Handle("POST /v1/agents/{endpoint}/schedule", instrument("ManualSchedule", http.HandlerFunc(s.handleManualSchedule)))
	s.mux.Handle("POST /v1/agents/{endpoint}/heartbeat", instrument("Heartbeat", http.HandlerFunc(s.handleHeartbeat)))
}

// Start begins serving on addr. Blocks until the server stops or errors.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("api server listening")
	return s.http.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "version": Version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil || s.cluster.LeaderAddr() == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response, deriving the HTTP status
// from err when it is a *scheduler.OpError, defaulting to 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	writeJSON(w, status, map[string]string{"error": msg})
}
