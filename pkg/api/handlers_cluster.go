package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type clusterJoinRequest struct {
	NodeID   string `json:"nodeId"`
	RaftAddr string `json:"raftAddr"`
	Token    string `json:"token"`
}

type generateTokenRequest struct {
	TTLSeconds int64 `json:"ttlSeconds,omitempty"`
}

const defaultJoinTokenTTL = time.Hour

// handleGenerateJoinToken mints a join token callers pass to a new node's
// orbitd run --join-token. Only useful when called against the leader;
// tokens minted by a follower are tracked in its own TokenManager, which
// the leader (the only node that accepts AddVoter) never consults.
func (s *Server) handleGenerateJoinToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	ttl := defaultJoinTokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	jt, err := s.cluster.Tokens().GenerateToken(ttl)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": jt.Token, "expiresAt": jt.ExpiresAt.Format(time.RFC3339)})
}

// handleClusterJoin authorizes and admits a new manager node into the raft
// quorum. Only reachable on the current leader; followers return 500 via
// AddVoter's own leader check and the caller retries elsewhere.
func (s *Server) handleClusterJoin(w http.ResponseWriter, r *http.Request) {
	var req clusterJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cluster.Tokens().ValidateToken(req.Token); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cluster.AddVoter(req.NodeID, req.RaftAddr); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
