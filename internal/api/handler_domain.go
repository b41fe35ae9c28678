package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/service"
)

// HandleListDomains returns a handler for GET /api/v1/domains. With
// eligible=true the listing is restricted to active domains in assignment
// preference order; tier_ceiling further caps the tier.
func HandleListDomains(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var domains []model.SniDomain
		var err error
		if q := r.URL.Query(); q.Get("eligible") == "true" {
			ceiling := int(^uint(0) >> 1)
			if v := q.Get("tier_ceiling"); v != "" {
				ceiling, err = strconv.Atoi(v)
				if err != nil {
					writeInvalidArgument(w, "tier_ceiling must be an integer")
					return
				}
			}
			domains, err = cp.ListEligibleDomains(ceiling)
		} else {
			domains, err = cp.ListDomains()
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		WritePage(w, http.StatusOK, domains, pg)
	}
}

// HandleGetDomain returns a handler for GET /api/v1/domains/{id}.
func HandleGetDomain(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "domain_id")
		if !ok {
			return
		}
		d, err := cp.GetDomain(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

// HandleCreateDomain returns a handler for POST /api/v1/domains.
func HandleCreateDomain(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateDomainRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		d, err := cp.CreateDomain(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, d)
	}
}

// HandleUpdateDomain returns a handler for PATCH /api/v1/domains/{id}.
func HandleUpdateDomain(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "domain_id")
		if !ok {
			return
		}
		var req service.UpdateDomainRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		d, err := cp.UpdateDomain(id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

// HandleDeleteDomain returns a handler for DELETE /api/v1/domains/{id}.
func HandleDeleteDomain(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "domain_id")
		if !ok {
			return
		}
		if err := cp.DeleteDomain(id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleProbeDomain returns a handler for POST /api/v1/domains/{id}/actions/probe.
func HandleProbeDomain(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "domain_id")
		if !ok {
			return
		}
		d, err := cp.ProbeDomainNow(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

// HandleRecordDomainProbe returns a handler for
// POST /api/v1/domains/{id}/actions/record-probe. External probers that run
// their own TLS checks report outcomes here; scoring and deactivation follow
// the same policy as the built-in prober.
func HandleRecordDomainProbe(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "domain_id")
		if !ok {
			return
		}
		var req struct {
			Success   bool  `json:"success"`
			LatencyMs int64 `json:"latency_ms"`
		}
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		d, err := cp.RecordDomainProbe(id, req.Success, time.Duration(req.LatencyMs)*time.Millisecond)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}
