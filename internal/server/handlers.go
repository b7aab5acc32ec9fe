package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/kyleking/askdb/internal/connectors"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/sqlexec"
)

const maxBodyBytes = 1 << 20

type queryRequest struct {
	Question string `json:"question"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

type mcpRequest struct {
	DBPath string `json:"db_path"`
}

type mcpResponse struct {
	DBPath string                `json:"db_path"`
	Config *connectors.MCPConfig `json:"config"`
}

type errorResponse struct {
	Error       string   `json:"error"`
	Type        string   `json:"type,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrTypeValidation, "Question is required."))
		return
	}

	answer, err := s.orch.Answer(r.Context(), question, s.caller)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	answer.Question = question
	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if !s.decode(w, r, &req) {
		return
	}

	outcomes, err := s.orch.Execute(r.Context(), req.SQL, s.caller)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string][]sqlexec.Outcome{"result_sets": outcomes})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.orch.DescribeSchema(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleGetMCP(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.store.LoadMCP()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, mcpResponse{DBPath: cfg.DBPath(s.store.ServerName()), Config: cfg})
}

func (s *Server) handleUpdateMCP(w http.ResponseWriter, r *http.Request) {
	var req mcpRequest
	if !s.decode(w, r, &req) {
		return
	}

	dbPath := strings.TrimSpace(req.DBPath)
	if dbPath == "" {
		s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrTypeValidation, "Database path is required."))
		return
	}

	cfg, err := s.store.SetDBPath(dbPath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, mcpResponse{DBPath: dbPath, Config: cfg})
}

func (s *Server) handleGetConnectors(w http.ResponseWriter, _ *http.Request) {
	c, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, c)
}

// handleUpdateConnectors merges the posted sections over the stored settings;
// fields the request leaves out keep their current values.
func (s *Server) handleUpdateConnectors(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	active := c.Active

	if !s.decode(w, r, c) {
		return
	}

	if strings.TrimSpace(c.Active) == "" {
		c.Active = active
	}

	if err := s.store.Save(c); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.WithField("active", c.Active).Info("connector settings saved")
	s.writeJSON(w, http.StatusOK, c)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || stderrors.Is(err, io.EOF) {
		return true
	}

	s.writeError(w, http.StatusBadRequest, errors.Wrap(err, errors.ErrTypeValidation, "invalid JSON body"))

	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: errors.Message(err)}

	var structErr *errors.Error
	if stderrors.As(err, &structErr) {
		resp.Type = string(structErr.Type)
		resp.Suggestions = structErr.Suggestions
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}

	s.writeJSON(w, status, resp)
}

// statusFor maps caller mistakes to 400 and everything else to 500.
func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeEmptyInput, errors.ErrTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
