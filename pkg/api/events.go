package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	evs, total, err := s.events.List(opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.EventList{TotalResults: total, Results: len(evs), Events: evs})
}

// streamEvents writes events as newline delimited JSON until the client
// disconnects. Optional entityType, eventType and policyId query parameters
// select the events sent.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, r, errdefs.New(errdefs.Internal, "event streaming is not enabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errdefs.New(errdefs.Internal, "streaming not supported"))
		return
	}

	// the server write timeout would otherwise end the stream
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	q := r.URL.Query()
	entityType, eventType, policyID := q.Get("entityType"), q.Get("eventType"), q.Get("policyId")

	sub := s.stream.Subscribe()
	defer s.stream.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if (entityType != "" && string(event.EntityType) != entityType) ||
				(eventType != "" && string(event.Type) != eventType) ||
				(policyID != "" && event.PolicyID != policyID) {
				continue
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
