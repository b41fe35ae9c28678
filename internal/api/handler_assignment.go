package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/veilnet/veil/internal/service"
)

type assignRequest struct {
	TierCeiling *int `json:"tier_ceiling"`
}

type rotateRequest struct {
	TierCeiling *int   `json:"tier_ceiling"`
	Reason      string `json:"reason"`
}

// HandleAssignNode returns a handler for POST /api/v1/nodes/{id}/actions/assign.
func HandleAssignNode(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		req := assignRequest{}
		if r.ContentLength > 0 {
			if err := DecodeBody(r, &req); err != nil {
				writeDecodeBodyError(w, err)
				return
			}
		}
		view, err := cp.AssignNode(id, req.TierCeiling)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// HandleRotateNode returns a handler for POST /api/v1/nodes/{id}/actions/rotate.
func HandleRotateNode(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		req := rotateRequest{}
		if r.ContentLength > 0 {
			if err := DecodeBody(r, &req); err != nil {
				writeDecodeBodyError(w, err)
				return
			}
		}
		view, err := cp.RotateNode(id, req.TierCeiling, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// HandleGetAssignment returns a handler for GET /api/v1/nodes/{id}/assignment.
func HandleGetAssignment(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		view, err := cp.GetNodeAssignment(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// HandleUnassignNode returns a handler for DELETE /api/v1/nodes/{id}/assignment.
func HandleUnassignNode(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "node_id")
		if !ok {
			return
		}
		if err := cp.UnassignNode(id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRotationLogs returns a handler for GET /api/v1/rotation-logs.
// The optional node_id query parameter filters to one node.
func HandleRotationLogs(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodeID := r.URL.Query().Get("node_id")
		if nodeID != "" {
			if err := uuid.Validate(nodeID); err != nil {
				writeInvalidArgument(w, "node_id must be a UUID")
				return
			}
		}
		entries, err := cp.RotationLogs(nodeID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		WritePage(w, http.StatusOK, entries, pg)
	}
}
