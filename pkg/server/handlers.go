package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inkforge/orchestrator/pkg/artifact"
	"github.com/inkforge/orchestrator/pkg/auth"
	"github.com/inkforge/orchestrator/pkg/job"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/phase"
)

// CheckpointLister is the read surface GET /jobs/{id}/checkpoints serves
// from, satisfied by (*store.CheckpointsRepo).
type CheckpointLister interface {
	List(ctx context.Context, jobID string) ([]artifact.Checkpoint, error)
}

type createRequest struct {
	Prompt            string `json:"prompt"`
	Genre             string `json:"genre,omitempty"`
	TargetLengthWords int    `json:"targetLengthWords,omitempty"`
	Voice             string `json:"voice,omitempty"`
	Mode              string `json:"mode,omitempty"`
	PaymentRef        string `json:"paymentRef,omitempty"`
}

type createResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(orcherr.CodeValidationError), "malformed JSON body")
		return
	}

	owner := ownerOf(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, string(orcherr.CodeUnauthorized), "missing caller identity")
		return
	}

	j, err := s.opts.Controller.Create(r.Context(), owner, job.Input{
		Prompt:            req.Prompt,
		Genre:             req.Genre,
		TargetLengthWords: req.TargetLengthWords,
		Voice:             req.Voice,
		Mode:              job.Mode(req.Mode),
		PaymentRef:        req.PaymentRef,
	})
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createResponse{JobID: j.ID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.requireOwnedJob(w, r, id)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, j.ToSnapshot())
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.requireOwnedJob(w, r, id); err != nil {
		return
	}

	snap, err := s.opts.Controller.Tick(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.requireOwnedJob(w, r, id); err != nil {
		return
	}

	if err := s.opts.Controller.Cancel(r.Context(), id); err != nil {
		writeClassifiedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleManuscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.requireOwnedJob(w, r, id); err != nil {
		return
	}

	m, err := s.opts.Manuscripts.Get(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.requireOwnedJob(w, r, id); err != nil {
		return
	}

	cps, err := s.opts.Checkpoints.List(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, phase.Schemas())
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if s.opts.Share == nil {
		writeError(w, http.StatusNotFound, string(orcherr.CodeNotFound), "share links are not enabled")
		return
	}
	m, err := s.opts.Share.Resolve(r.Context(), token)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireOwnedJob loads the full Job row and enforces owner-of-resource:
// the only authorization check this API performs beyond a valid bearer
// token. Writes the HTTP response itself on any failure so handlers can
// early-return on a non-nil error.
func (s *Server) requireOwnedJob(w http.ResponseWriter, r *http.Request, id string) (*job.Job, error) {
	j, err := s.opts.Controller.Jobs.Get(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return nil, err
	}

	if !s.opts.Config.AuthDisabled {
		claims := auth.GetClaims(r)
		if claims == nil {
			writeError(w, http.StatusUnauthorized, string(orcherr.CodeUnauthorized), "missing bearer token")
			return nil, orcherr.ErrUnauthorized
		}
		if claims.Subject != j.OwnerID {
			writeError(w, http.StatusUnauthorized, string(orcherr.CodeUnauthorized), "not the owner of this job")
			return nil, orcherr.ErrUnauthorized
		}
	}
	return j, nil
}

func ownerOf(r *http.Request) string {
	if claims := auth.GetClaims(r); claims != nil {
		return claims.Subject
	}
	return r.Header.Get("X-Debug-Owner") // only ever populated when auth is disabled, for local dev
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: message, Code: code})
}

// writeClassifiedError maps an orcherr-classified error to the
// {error, code, details} envelope and its HTTP status, without leaking
// internal error text to the client.
func writeClassifiedError(w http.ResponseWriter, err error) {
	code := orcherr.CodeFor(err)
	status := http.StatusInternalServerError
	switch code {
	case orcherr.CodeUnauthorized:
		status = http.StatusUnauthorized
	case orcherr.CodeNotFound:
		status = http.StatusNotFound
	case orcherr.CodeRateLimited:
		status = http.StatusTooManyRequests
	case orcherr.CodeValidationError:
		status = http.StatusBadRequest
	case orcherr.CodeConflict:
		status = http.StatusConflict
	}

	message := "an internal error occurred"
	if errors.Is(err, orcherr.ErrJobNotFound) {
		message = "job not found"
	} else if errors.Is(err, orcherr.ErrJobTerminal) {
		message = "job is already in a terminal state"
	} else if code == orcherr.CodeValidationError {
		message = "request failed validation"
	}
	writeJSON(w, status, errorEnvelope{Error: message, Code: string(code)})
}
