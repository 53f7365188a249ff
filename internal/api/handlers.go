package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/detect"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/patch"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Detect ---

type detectRequest struct {
	Repo  string              `json:"repo,omitempty"`
	Files []model.ChangedFile `json:"files"`
}

type detectResponse struct {
	Report     *model.VulnerabilityReport `json:"report"`
	Vulnerable bool                       `json:"vulnerable"`
	Hints      []hintJSON                 `json:"hints,omitempty"`
}

type hintJSON struct {
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Category string `json:"category"`
	Code     string `json:"code"`
	Risk     string `json:"risk"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Detector == nil {
		s.writeError(w, http.StatusServiceUnavailable, "detection is not configured")
		return
	}
	var req detectRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	report, err := s.deps.Detector.Detect(r.Context(), req.Repo, req.Files)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := detectResponse{Report: report, Vulnerable: detect.IsVulnerable(report)}
	for _, h := range detect.Hints(req.Files) {
		resp.Hints = append(resp.Hints, hintJSON{
			File:     h.File,
			Line:     h.Line,
			Category: h.Category,
			Code:     h.Code,
			Risk:     h.Risk.String(),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- Patch ---

type patchRequest struct {
	Files  []model.ChangedFile       `json:"files"`
	Report model.VulnerabilityReport `json:"report"`
}

type patchResponse struct {
	*patch.Outcome
	Artifacts []*patch.Artifact `json:"artifacts,omitempty"`
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "patch generation is not configured")
		return
	}
	var req patchRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		s.writeError(w, http.StatusBadRequest, "files are required")
		return
	}

	p := *s.deps.Pipeline
	p.Observer = nil
	out, err := p.Run(r.Context(), req.Files, req.Report)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	arts, err := patch.Artifacts(req.Files, out)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.log.Info("patch run", zap.String("strategy", out.Selection.ChosenLabel),
		zap.Strings("matched", out.Matched), zap.Bool("miss", out.Miss))
	s.writeJSON(w, http.StatusOK, patchResponse{Outcome: out, Artifacts: arts})
}

// --- Reconcile ---

type reconcileRequest struct {
	Files      []model.ChangedFile `json:"files"`
	Candidates model.CandidateSet  `json:"candidates"`
	Selection  string              `json:"selection"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	rec, err := s.deps.Reconciler.Reconcile(req.Files, req.Candidates, req.Selection)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}
