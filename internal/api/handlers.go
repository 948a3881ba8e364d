package api

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

// translateRequest is the JSON form of POST /api/translate.
type translateRequest struct {
	ImageURL string `json:"imageUrl"`
	Filename string `json:"filename"`
	Verify   bool   `json:"verify"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)

	req := &processor.ProcessRequest{}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body translateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if body.ImageURL == "" {
			jsonError(w, "imageUrl is required", http.StatusBadRequest)
			return
		}
		req.ImageURL = body.ImageURL
		req.Filename = sanitizeFilename(body.Filename)
		req.RequireVerification = body.Verify
	} else {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			jsonError(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			jsonError(w, "missing 'image' field", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadSize+1))
		if err != nil {
			jsonError(w, "failed to read upload", http.StatusBadRequest)
			return
		}
		if int64(len(data)) > s.cfg.MaxUploadSize {
			jsonError(w, "image too large", http.StatusRequestEntityTooLarge)
			return
		}
		if len(data) == 0 {
			jsonError(w, "empty image", http.StatusBadRequest)
			return
		}
		req.ImageBuffer = data
		req.Filename = sanitizeFilename(header.Filename)
		req.RequireVerification, _ = strconv.ParseBool(r.FormValue("verify"))
	}

	req.JobID = uuid.NewString()
	req.Sink = s.store

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.store.Create(req.JobID, req.Filename, cancel)

	s.wg.Add(1)
	go s.run(ctx, cancel, req)

	s.log.Info("Translation accepted", "jobId", req.JobID, "filename", req.Filename,
		"verify", req.RequireVerification)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  req.JobID,
		"status": string(processor.StageDetecting),
	})
}

// run waits for a semaphore slot and processes one job in the background.
func (s *Server) run(ctx context.Context, cancel context.CancelFunc, req *processor.ProcessRequest) {
	defer s.wg.Done()
	defer cancel()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.log.Info("Job cancelled before start", "jobId", req.JobID)
		return
	}

	runCtx, runCancel := context.WithTimeout(ctx, s.cfg.ProcessingTimeout)
	defer runCancel()

	result, err := s.cfg.Processor.ProcessImage(runCtx, req)
	if err != nil {
		s.log.Warn("Job failed", "jobId", req.JobID, "error", err)
		return
	}
	s.store.SetResult(req.JobID, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.store.Get(chi.URLParam(r, "jobID"))
	if !ok {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobImage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	data, stage, err := s.store.Image(jobID)
	if err != nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	if stage != processor.StageCompleted || len(data) == 0 {
		jsonError(w, fmt.Sprintf("job is %s, not completed", stage), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "translated_"+jobID+".jpg"))
	w.Write(data)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var decision processor.VerificationDecision
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&decision); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	switch err := s.store.Resolve(jobID, decision); {
	case goerrors.Is(err, ErrJobNotFound):
		jsonError(w, "job not found", http.StatusNotFound)
		return
	case goerrors.Is(err, ErrNotAwaitingVerification):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info("Verification resolved", "jobId", jobID, "accept", decision.Accept, "boxes", len(decision.Boxes))
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "accept": decision.Accept})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.store.Delete(jobID); err != nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "status": "deleted"})
}

func (s *Server) handleClearJobs(w http.ResponseWriter, r *http.Request) {
	n := s.store.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Logs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"logs": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.cfg.Logs.Entries()})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Logs != nil {
		s.cfg.Logs.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
