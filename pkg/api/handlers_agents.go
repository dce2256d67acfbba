package api

import (
	"encoding/json"
	"net/http"

	"github.com/orbitctl/orbit/pkg/scheduler"
	"github.com/orbitctl/orbit/pkg/types"
)

// deviceDTO mirrors scheduler.Device with JSON tags, since Device itself
// carries none (it is never otherwise serialized).
type deviceDTO struct {
	Path      string              `json:"path"`
	Medium    types.VolumeMedium  `json:"medium"`
	Total     int64               `json:"total"`
	Used      int64               `json:"used"`
	Exclusive bool                `json:"exclusive"`
}

func (d deviceDTO) toDevice() *scheduler.Device {
	return &scheduler.Device{Path: d.Path, Medium: d.Medium, Total: d.Total, Used: d.Used, Exclusive: d.Exclusive}
}

type addAgentRequest struct {
	Endpoint string                      `json:"endpoint"`
	TotalCpu int                         `json:"totalCpu"`
	TotalMem int64                       `json:"totalMem"`
	Devices  []deviceDTO                 `json:"devices,omitempty"`
	Pool     string                      `json:"pool,omitempty"`
	Tags     []string                    `json:"tags,omitempty"`
	Reported []types.ReportedContainer   `json:"reported,omitempty"`
}

type tagRequest struct {
	Tag string `json:"tag"`
}

type poolRequest struct {
	Pool string `json:"pool"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cluster.Scheduler().ListAgents())
}

func (s *Server) handleAddAgent(w http.ResponseWriter, r *http.Request) {
	var req addAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	devices := make([]*scheduler.Device, 0, len(req.Devices))
	for _, d := range req.Devices {
		devices = append(devices, d.toDevice())
	}
	if err := s.cluster.AddAgent(req.Endpoint, req.TotalCpu, req.TotalMem, devices, req.Pool, req.Tags, req.Reported); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleShowAgent(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	a, err := s.cluster.Scheduler().ShowAgent(endpoint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	if err := s.cluster.RemoveAgent(endpoint); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cluster.AddTag(endpoint, req.Tag); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	tag := r.PathValue("tag")
	if err := s.cluster.RemoveTag(endpoint, tag); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetPool(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	var req poolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cluster.SetPool(endpoint, req.Pool); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFreezeAgent(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	if err := s.cluster.FreezeAgent(endpoint); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleThawAgent(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	if err := s.cluster.ThawAgent(endpoint); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleManualSchedule(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	groupId := r.URL.Query().Get("groupId")
	ok, err := s.cluster.ManualSchedule(endpoint, groupId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"scheduled": ok})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	var info types.AgentInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	info.Endpoint = endpoint
	cmds, err := s.cluster.Scheduler().MakeCommand(endpoint, info)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}
