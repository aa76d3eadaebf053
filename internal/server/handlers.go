package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/mirrorform/twind-go/internal/jobs"
	"github.com/mirrorform/twind-go/internal/logging"
	"github.com/mirrorform/twind-go/internal/retrieval"
	"github.com/mirrorform/twind-go/internal/store"
)

// handleSourceCreate handles POST /api/sources: record the source and queue
// an ingestion job. Responds 202 since processing is asynchronous.
func (s *Server) handleSourceCreate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if (req.Ref == "") == (req.Content == "") {
		writeError(w, http.StatusBadRequest, "exactly one of ref and content is required")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Ref
	}

	// Inline content is hashed directly; referenced content is identified by
	// its reference until extraction resolves it.
	hashInput := req.Content
	if hashInput == "" {
		hashInput = req.Ref
	}

	src, err := s.store.UpsertSourceByHash(r.Context(), req.TenantID, req.DisplayName, req.OriginURL, store.HashContent(hashInput))
	if err != nil {
		log.Error("source create failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not record source")
		return
	}

	meta := map[string]string{}
	if req.Ref != "" {
		meta[jobs.MetaRef] = req.Ref
	} else {
		meta[jobs.MetaContent] = req.Content
	}

	jobID, err := s.store.EnqueueJob(r.Context(), src.ID, req.TenantID, jobs.TypeIngestion, req.Priority, meta)
	if err != nil {
		log.Error("ingestion enqueue failed",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not queue ingestion")
		return
	}

	log.Info("source submitted",
		slog.String("source_id", src.ID),
		slog.String("job_id", jobID),
		slog.String("tenant_id", req.TenantID))

	writeJSON(w, http.StatusAccepted, createSourceResponse{
		SourceID: src.ID,
		JobID:    jobID,
		Status:   string(src.Status),
	})
}

// handleSourceDelete handles DELETE /api/sources/{id}: queue a deletion job
// that removes the source's vectors and rows.
func (s *Server) handleSourceDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		log.Error("source lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not look up source")
		return
	}

	jobID, err := s.store.EnqueueJob(r.Context(), src.ID, src.TenantID, jobs.TypeDeletion, 0, nil)
	if err != nil {
		log.Error("deletion enqueue failed",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not queue deletion")
		return
	}

	log.Info("source deletion queued",
		slog.String("source_id", src.ID),
		slog.String("job_id", jobID))

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// handleRetrieve handles POST /api/retrieve: one blocking retrieval.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRetrieveRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	res, err := s.retriever.Retrieve(r.Context(), req)
	if err != nil {
		// Only cancellation reaches here; the client is gone.
		s.metrics.observeRetrieve("cancelled", time.Since(start))
		return
	}

	outcome := "ok"
	if res.InsufficientEvidence {
		outcome = "insufficient"
	}
	s.metrics.observeRetrieve(outcome, time.Since(start))
	writeJSON(w, http.StatusOK, res)
}

// handleRetrieveStream handles GET /api/retrieve/stream: the retrieval
// result as Server-Sent Events, one metadata event then one context event
// per retrieved context, ending with a done event.
func (s *Server) handleRetrieveStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := retrieval.Request{
		Query:           q.Get("query"),
		TenantID:        q.Get("tenant_id"),
		PermissionGroup: q.Get("permission_group"),
	}
	if k := q.Get("top_k"); k != "" {
		topK, err := strconv.Atoi(k)
		if err != nil || topK < 0 {
			writeError(w, http.StatusBadRequest, "top_k must be a non-negative integer")
			return
		}
		req.TopK = topK
	}
	if req.TenantID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and query are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.metrics.activeStreams.Inc()
	defer s.metrics.activeStreams.Dec()

	start := time.Now()
	for ev := range s.retriever.Stream(r.Context(), req) {
		if err := writeSSE(w, string(ev.Type), ev); err != nil {
			s.metrics.observeRetrieve("error", time.Since(start))
			return
		}
		flusher.Flush()
	}
	if r.Context().Err() != nil {
		s.metrics.observeRetrieve("cancelled", time.Since(start))
		return
	}

	fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
	s.metrics.observeRetrieve("ok", time.Since(start))
}

// writeSSE writes one SSE frame with the given event name and JSON payload.
func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// decodeRetrieveRequest parses and validates a POST /api/retrieve body.
func decodeRetrieveRequest(w http.ResponseWriter, r *http.Request) (retrieval.Request, bool) {
	var body retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return retrieval.Request{}, false
	}
	if body.TenantID == "" || body.Query == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and query are required")
		return retrieval.Request{}, false
	}
	return retrieval.Request{
		Query:           body.Query,
		TenantID:        body.TenantID,
		PermissionGroup: body.PermissionGroup,
		TopK:            body.TopK,
	}, true
}

// handleDeadLetters handles GET /api/jobs/dead-letter: list jobs that
// exhausted their attempts, newest first.
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	dead, err := s.store.ListDeadLetters(r.Context(), tenantID)
	if err != nil {
		log.Error("dead-letter list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not list dead-letter jobs")
		return
	}

	out := make([]jobResponse, 0, len(dead))
	for _, j := range dead {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string][]jobResponse{"jobs": out})
}

// handleJobReplay handles POST /api/jobs/{id}/replay: requeue a dead-letter
// job with a fresh attempt budget.
func (s *Server) handleJobReplay(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	if err := s.store.ReplayJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no dead-letter job with that id")
			return
		}
		log.Error("job replay failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not replay job")
		return
	}

	log.Info("job replayed", slog.String("job_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": string(store.StatusQueued)})
}

// handleVerifiedCreate handles POST /api/verified: record an owner-curated
// answer and inject it into the vector index.
func (s *Server) handleVerifiedCreate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createVerifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.Question == "" || req.Answer == "" {
		writeError(w, http.StatusBadRequest, "tenant_id, question, and answer are required")
		return
	}

	va, err := s.verified.Create(r.Context(), req.TenantID, req.Question, req.Answer)
	if err != nil {
		log.Error("verified create failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not create verified answer")
		return
	}

	writeJSON(w, http.StatusCreated, va)
}

// handleVerifiedList handles GET /api/verified.
func (s *Server) handleVerifiedList(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	answers, err := s.verified.List(r.Context(), tenantID)
	if err != nil {
		log.Error("verified list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not list verified answers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answers": answers})
}

// handleVerifiedDeactivate handles DELETE /api/verified/{id}.
func (s *Server) handleVerifiedDeactivate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	if err := s.verified.Deactivate(r.Context(), tenantID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "verified answer not found")
			return
		}
		log.Error("verified deactivate failed",
			slog.String("verified_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not deactivate verified answer")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toJobResponse(j *store.Job) jobResponse {
	return jobResponse{
		ID:            j.ID,
		SourceID:      j.SourceID,
		TenantID:      j.TenantID,
		Type:          j.JobType,
		Status:        string(j.Status),
		RetryCount:    j.RetryCount,
		LastError:     j.Error,
		CorrelationID: j.CorrelationID(),
	}
}
