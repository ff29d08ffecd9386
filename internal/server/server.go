// Package server exposes the hotword corrector over HTTP.
//
// Routes:
//
//	POST /v1/correct              correct one text unit
//	POST /v1/recognition/correct  correct recognition results in place
//	GET  /v1/hotwords             read the rule file
//	PUT  /v1/hotwords             replace the rule file
//	POST /v1/hotwords/validate    lint rule file content without saving
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/voxfix/internal/transcript"
	"github.com/MrWong99/voxfix/internal/transcript/rulefile"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
	"github.com/MrWong99/voxfix/pkg/asr"
)

// defaultMaxBody caps request bodies. Rule files and recognition results are
// text; anything larger is a client error.
const defaultMaxBody = 4 << 20

// Corrector is the part of [transcript.Corrector] the server needs.
type Corrector interface {
	Correct(ctx context.Context, text, extra string) transcript.Result
	CorrectRecognition(ctx context.Context, r *asr.Result) []transcript.Correction
	Status() transcript.Status
}

// RuleFiles is the part of [rulefile.Manager] the server needs.
type RuleFiles interface {
	Read() (rulefile.Content, error)
	Validate(text string) []rules.Diagnostic
	Update(text string, lastModified time.Time) (rulefile.Content, error)
}

// Server serves the correction API. Create one with [New].
type Server struct {
	corrector Corrector
	files     RuleFiles
	reload    func(context.Context) (transcript.Status, error)
	maxBody   int64
}

// Option configures a [Server].
type Option func(*Server)

// WithReload sets the function called after a successful rule file update so
// the response reflects the new rules. Without it the file watcher picks the
// change up on its own schedule.
func WithReload(fn func(context.Context) (transcript.Status, error)) Option {
	return func(s *Server) { s.reload = fn }
}

// WithMaxBodyBytes overrides the request body limit. Default: 4 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New returns a [Server]. files may be nil, in which case the hotword routes
// are not registered.
func New(c Corrector, files RuleFiles, opts ...Option) *Server {
	s := &Server{corrector: c, files: files, maxBody: defaultMaxBody}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/correct", s.handleCorrect)
	mux.HandleFunc("POST /v1/recognition/correct", s.handleRecognition)
	if s.files != nil {
		mux.HandleFunc("GET /v1/hotwords", s.handleGetHotwords)
		mux.HandleFunc("PUT /v1/hotwords", s.handlePutHotwords)
		mux.HandleFunc("POST /v1/hotwords/validate", s.handleValidate)
	}
}

// Handler returns a mux serving only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// ─── DTOs ────────────────────────────────────────────────────────────────────

type correctRequest struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

type correctResponse struct {
	Text        string           `json:"text"`
	Corrections []correctionJSON `json:"corrections"`
}

type correctionJSON struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Similarity float64 `json:"similarity"`
	Method     string  `json:"method"`
}

type recognitionResponse struct {
	Results     []asr.Result     `json:"results"`
	Corrections []correctionJSON `json:"corrections"`
}

type statusJSON struct {
	Loaded   bool   `json:"loaded"`
	Rules    int    `json:"rules"`
	Source   string `json:"source,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Degraded bool   `json:"degraded"`
}

type diagnosticJSON struct {
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Content  string `json:"content,omitempty"`
}

type hotwordsResponse struct {
	Content      string     `json:"content"`
	LastModified time.Time  `json:"last_modified"`
	Status       statusJSON `json:"status"`
}

type updateRequest struct {
	Content      string    `json:"content"`
	LastModified time.Time `json:"last_modified"`
}

type updateResponse struct {
	LastModified time.Time        `json:"last_modified"`
	Diagnostics  []diagnosticJSON `json:"diagnostics"`
	Status       statusJSON       `json:"status"`
}

type validateRequest struct {
	Content string `json:"content"`
}

type validateResponse struct {
	Valid       bool             `json:"valid"`
	Diagnostics []diagnosticJSON `json:"diagnostics"`
}

type errorResponse struct {
	Error       string           `json:"error"`
	Diagnostics []diagnosticJSON `json:"diagnostics,omitempty"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// handleCorrect handles POST /v1/correct.
func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.corrector.Correct(r.Context(), req.Text, req.Context)
	writeJSON(w, http.StatusOK, correctResponse{
		Text:        res.Corrected,
		Corrections: toCorrectionsJSON(res.Corrections),
	})
}

// handleRecognition handles POST /v1/recognition/correct. The body is a
// single recognition result or an array of them; inline markup is stripped
// unless strip_tags=false.
func (s *Server) handleRecognition(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !s.decode(w, r, &raw) {
		return
	}
	results, err := decodeResults(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recognition result: "+err.Error())
		return
	}

	strip := r.URL.Query().Get("strip_tags") != "false"
	var corrections []transcript.Correction
	for i := range results {
		if strip {
			results[i].StripTags()
		}
		corrections = append(corrections, s.corrector.CorrectRecognition(r.Context(), &results[i])...)
	}
	writeJSON(w, http.StatusOK, recognitionResponse{
		Results:     results,
		Corrections: toCorrectionsJSON(corrections),
	})
}

// handleGetHotwords handles GET /v1/hotwords.
func (s *Server) handleGetHotwords(w http.ResponseWriter, r *http.Request) {
	content, err := s.files.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "rule file does not exist")
			return
		}
		slog.Error("server: read rule file", "err", err)
		writeError(w, http.StatusInternalServerError, "cannot read rule file")
		return
	}
	writeJSON(w, http.StatusOK, hotwordsResponse{
		Content:      content.Text,
		LastModified: content.ModTime,
		Status:       toStatusJSON(s.corrector.Status()),
	})
}

// handlePutHotwords handles PUT /v1/hotwords.
func (s *Server) handlePutHotwords(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !s.decode(w, r, &req) {
		return
	}

	content, err := s.files.Update(req.Content, req.LastModified)
	var verr *rulefile.ValidationError
	switch {
	case errors.Is(err, rulefile.ErrConflict):
		writeError(w, http.StatusConflict, "rule file was modified by someone else; reload and retry")
		return
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:       verr.Error(),
			Diagnostics: toDiagnosticsJSON(verr.Diagnostics),
		})
		return
	case err != nil:
		slog.Error("server: update rule file", "err", err)
		writeError(w, http.StatusInternalServerError, "cannot update rule file")
		return
	}

	status := s.corrector.Status()
	if s.reload != nil {
		st, err := s.reload(r.Context())
		if err != nil {
			slog.Warn("server: reload after update failed", "err", err)
		}
		status = st
	}
	writeJSON(w, http.StatusOK, updateResponse{
		LastModified: content.ModTime,
		Diagnostics:  toDiagnosticsJSON(s.files.Validate(content.Text)),
		Status:       toStatusJSON(status),
	})
}

// handleValidate handles POST /v1/hotwords/validate.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !s.decode(w, r, &req) {
		return
	}
	diags := s.files.Validate(req.Content)
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:       !rules.HasErrors(diags),
		Diagnostics: toDiagnosticsJSON(diags),
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// decode reads the JSON body into v. On failure it writes a 400 or 413
// response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func decodeResults(raw json.RawMessage) ([]asr.Result, error) {
	if trimmed := bytes.TrimLeft(raw, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		var rs []asr.Result
		if err := json.Unmarshal(trimmed, &rs); err != nil {
			return nil, err
		}
		return rs, nil
	}
	var one asr.Result
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []asr.Result{one}, nil
}

func toCorrectionsJSON(cs []transcript.Correction) []correctionJSON {
	out := make([]correctionJSON, len(cs))
	for i, c := range cs {
		out[i] = correctionJSON{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Similarity: c.Similarity,
			Method:     string(c.Method),
		}
	}
	return out
}

func toDiagnosticsJSON(ds []rules.Diagnostic) []diagnosticJSON {
	out := make([]diagnosticJSON, len(ds))
	for i, d := range ds {
		out[i] = diagnosticJSON{
			Line:     d.Line,
			Severity: d.Severity.String(),
			Message:  d.Message,
			Content:  d.Content,
		}
	}
	return out
}

func toStatusJSON(st transcript.Status) statusJSON {
	return statusJSON{
		Loaded:   st.Loaded,
		Rules:    st.Rules,
		Source:   string(st.Source),
		Hash:     st.Hash,
		Degraded: st.Degraded,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
