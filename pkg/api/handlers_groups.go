package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/orbitctl/orbit/pkg/types"
)

type submitGroupRequest struct {
	Name     string              `json:"name"`
	Desc     types.ContainerDesc `json:"desc"`
	Replica  int                 `json:"replica"`
	Priority types.Priority      `json:"priority"`
	User     string              `json:"user"`
}

type updateGroupRequest struct {
	Desc        types.ContainerDesc `json:"desc"`
	IntervalSec int64               `json:"intervalSec"`
}

type changeReplicaRequest struct {
	Replica int `json:"replica"`
}

type continueUpdateRequest struct {
	BreakCount int `json:"breakCount"`
}

type changeStatusRequest struct {
	Status types.ContainerStatus `json:"status"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cluster.Scheduler().ListContainerGroups())
}

func (s *Server) handleSubmitGroup(w http.ResponseWriter, r *http.Request) {
	var req submitGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id, err := s.cluster.SubmitGroup(req.Name, req.Desc, req.Replica, req.Priority, req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleShowGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g, err := s.cluster.Scheduler().ShowContainerGroup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleKillGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cluster.KillGroup(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	version, err := s.cluster.UpdateGroup(id, req.Desc, time.Duration(req.IntervalSec)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (s *Server) handleRollbackGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	version, err := s.cluster.RollbackGroup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (s *Server) handleCancelUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cluster.CancelUpdate(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChangeReplica(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req changeReplicaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cluster.ChangeReplica(id, req.Replica); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePauseUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cluster.PauseUpdate(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleContinueUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req continueUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cluster.ContinueUpdate(id, req.BreakCount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChangeContainerStatus(w http.ResponseWriter, r *http.Request) {
	groupId := r.PathValue("id")
	containerId := r.PathValue("containerId")
	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cluster.ChangeContainerStatus(groupId, containerId, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	var meta types.ContainerGroupMeta
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.cluster.Scheduler().MetaToQuota(meta))
}

func (s *Server) handleUserAlloc(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	writeJSON(w, http.StatusOK, s.cluster.Scheduler().ShowUserAlloc(user))
}
