package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/veilnet/veil/internal/service"
)

// HandleSubscription returns a handler for GET /api/v1/subscription.
// The encoding query parameter selects json (default), uri, or base64.
// Nodes skipped during generation are counted in the X-Veil-Skipped-Nodes
// header so partial payloads remain visible to operators.
func HandleSubscription(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := cp.BuildSubscription(r.URL.Query().Get("encoding"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeSubscriptionResult(w, result)
	}
}

// HandleBuildUserSubscription returns a handler for
// POST /api/v1/subscriptions/build. The body carries the user's entitlement;
// the payload lists nodes in entitlement order. Plan limits ride along in the
// Subscription-Userinfo header for the line-oriented encodings.
func HandleBuildUserSubscription(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.BuildUserSubscriptionRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		result, err := cp.BuildUserSubscription(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeSubscriptionResult(w, result)
	}
}

func writeSubscriptionResult(w http.ResponseWriter, result service.SubscriptionResult) {
	if n := len(result.Skipped); n > 0 {
		w.Header().Set("X-Veil-Skipped-Nodes", strconv.Itoa(n))
	}
	if p := result.Plan; p != nil {
		info := fmt.Sprintf("upload=0; download=0; total=%d", p.TrafficQuotaBytes)
		if p.ExpiresAtNs > 0 {
			info += fmt.Sprintf("; expire=%d", time.Unix(0, p.ExpiresAtNs).Unix())
		}
		w.Header().Set("Subscription-Userinfo", info)
	}
	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Payload)
}
