package api

import (
	"net/http"

	"github.com/veilnet/veil/internal/service"
)

// HandleListNodes returns a handler for GET /api/v1/nodes.
func HandleListNodes(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, err := cp.ListNodes()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		WritePage(w, http.StatusOK, nodes, pg)
	}
}

// HandleGetNode returns a handler for GET /api/v1/nodes/{id}.
func HandleGetNode(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		n, err := cp.GetNode(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, n)
	}
}

// HandleCreateNode returns a handler for POST /api/v1/nodes.
func HandleCreateNode(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateNodeRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		n, err := cp.CreateNode(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, n)
	}
}

// HandleUpdateNode returns a handler for PATCH /api/v1/nodes/{id}.
func HandleUpdateNode(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		var req service.UpdateNodeRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		n, err := cp.UpdateNode(id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, n)
	}
}

// HandleDeleteNode returns a handler for DELETE /api/v1/nodes/{id}.
func HandleDeleteNode(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		if err := cp.DeleteNode(id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleProvisionNode returns a handler for POST /api/v1/nodes/{id}/actions/provision.
// The response carries the public half only; private keys stay server-side.
func HandleProvisionNode(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		km, err := cp.ProvisionNode(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, km)
	}
}

// HandleRegenerateNodeKeys returns a handler for POST /api/v1/nodes/{id}/actions/regenerate-keys.
// The optional body carries a reason for the audit log.
func HandleRegenerateNodeKeys(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength != 0 {
			if err := DecodeBody(r, &req); err != nil {
				writeDecodeBodyError(w, err)
				return
			}
		}
		km, err := cp.RegenerateNodeKeys(id, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, km)
	}
}

// HandleNodeConfig returns a handler for GET /api/v1/nodes/{id}/config.
func HandleNodeConfig(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		rendered, err := cp.GenerateNodeConfig(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rendered)
	}
}
