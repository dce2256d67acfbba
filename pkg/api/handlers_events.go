package api

import (
	"encoding/json"
	"net/http"
)

// handleEventStream streams the cluster's event broker as newline-delimited
// JSON. Connections hang open until the client disconnects; orbitctl uses
// this for --watch-style commands. One subscriber per connection, unsubscribed
// on return so a slow or abandoned client doesn't leak a broker channel.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	sub := s.cluster.Events().Subscribe()
	defer s.cluster.Events().Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
