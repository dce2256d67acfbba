package api

import (
	"errors"
	"net/http"

	"github.com/orbitctl/orbit/pkg/scheduler"
)

// errorStatus maps a scheduler.OpError to the HTTP status the Intent API
// reports it under. Errors raft.Apply itself produced (not the leader, no
// quorum, timeout) fall through to 500: the caller should retry against
// the current leader.
func errorStatus(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	var opErr *scheduler.OpError
	if errors.As(err, &opErr) {
		switch opErr.Status {
		case scheduler.StatusUnknownGroup, scheduler.StatusUnknownContainer, scheduler.StatusUnknownAgent:
			return http.StatusNotFound, opErr.Error()
		case scheduler.StatusReplicaInvalid, scheduler.StatusQuotaExceeded:
			return http.StatusBadRequest, opErr.Error()
		case scheduler.StatusAlreadyTerminated, scheduler.StatusNotPaused, scheduler.StatusNoPreviousDesc:
			return http.StatusConflict, opErr.Error()
		default:
			return http.StatusBadRequest, opErr.Error()
		}
	}
	return http.StatusInternalServerError, err.Error()
}
