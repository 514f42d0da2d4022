package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal/wire"
)

// handleQuery handles POST /{type}/query/{name}
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req wire.QueryRequest
	if err := readJSONBody(r, &req); err != nil {
		s.writeError(w, badRequest(fmt.Sprintf("invalid json body: %v", err)))
		return
	}

	typeName := r.PathValue("type")
	query := &ria.EntityQuery{
		EntityType:        typeName,
		QueryName:         r.PathValue("name"),
		Parameters:        normalizeParams(req.Parameters),
		Skip:              req.Skip,
		Take:              req.Take,
		IncludeTotalCount: req.IncludeTotalCount,
	}
	res, err := s.service.Query(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, wire.EncodeQueryResult(typeName, res))
}

// handleSubmit handles POST /submit
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req wire.SubmitRequest
	if err := readJSONBody(r, &req); err != nil {
		s.writeError(w, badRequest(fmt.Sprintf("invalid json body: %v", err)))
		return
	}
	if len(req.ChangeSet) == 0 {
		s.writeError(w, badRequest("change set is empty"))
		return
	}

	entries, err := wire.DecodeEntries(s.service.Registry(), req.ChangeSet)
	if err != nil {
		s.writeError(w, badRequest(fmt.Sprintf("invalid change set: %v", err)))
		return
	}
	results, err := s.service.Submit(r.Context(), entries)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, wire.SubmitResponse{Results: wire.EncodeEntries(results)})
}

// handleInvoke handles POST /invoke/{name}
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req wire.InvokeRequest
	if err := readJSONBody(r, &req); err != nil {
		s.writeError(w, badRequest(fmt.Sprintf("invalid json body: %v", err)))
		return
	}

	res, err := s.service.Invoke(r.Context(), &ria.InvokeArgs{
		OperationName:  r.PathValue("name"),
		Parameters:     normalizeParams(req.Parameters),
		HasSideEffects: req.HasSideEffects,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := wire.InvokeResponse{ValidationErrors: wire.EncodeValidationErrors(res.ValidationErrors)}
	if res.ReturnValue != nil {
		raw, err := json.Marshal(res.ReturnValue)
		if err != nil {
			s.writeError(w, fmt.Errorf("failed to encode return value: %w", err))
			return
		}
		resp.ReturnValue = raw
	}
	writeSuccess(w, http.StatusOK, resp)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"status": "ok",
		"types":  s.service.Registry().ListEntityTypes(),
	})
}
