package service

import (
	"errors"
	"strings"

	"github.com/veilnet/veil/internal/subscription"
)

// ------------------------------------------------------------------
// Subscriptions
// ------------------------------------------------------------------

// SubscriptionResult carries the rendered payload and any per-node failures
// that did not prevent generation.
type SubscriptionResult struct {
	Payload     []byte
	ContentType string
	Skipped     []subscription.NodeFailure
	Plan        *subscription.PlanMetadata
}

// BuildSubscription renders the fleet subscription in the requested
// encoding. Nodes missing an assignment or key material are skipped and
// reported; the call only fails when no node at all is usable or the
// rendered payload does not survive outbound validation.
func (s *ControlPlaneService) BuildSubscription(encoding string) (SubscriptionResult, error) {
	enc, svcErr := parseEncoding(encoding)
	if svcErr != nil {
		return SubscriptionResult{}, svcErr
	}
	descriptors, err := s.SubBuilder.Build()
	return s.renderSubscription(descriptors, err, enc, nil)
}

// BuildUserSubscriptionRequest describes an entitlement-scoped build: the
// payload covers exactly the listed nodes, in the listed order.
type BuildUserSubscriptionRequest struct {
	UserID   string                     `json:"user_id"`
	NodeIDs  []string                   `json:"node_ids"`
	Plan     *subscription.PlanMetadata `json:"plan"`
	Encoding string                     `json:"encoding"`
}

// BuildUserSubscription renders a subscription for one user's entitlement.
// Node order in the payload matches the order of NodeIDs; unknown or
// unusable nodes are skipped and reported, same as the fleet build.
func (s *ControlPlaneService) BuildUserSubscription(req BuildUserSubscriptionRequest) (SubscriptionResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return SubscriptionResult{}, invalidArg("user_id must not be empty")
	}
	if len(req.NodeIDs) == 0 {
		return SubscriptionResult{}, invalidArg("node_ids must not be empty")
	}
	enc, svcErr := parseEncoding(req.Encoding)
	if svcErr != nil {
		return SubscriptionResult{}, svcErr
	}
	descriptors, err := s.SubBuilder.BuildFor(req.NodeIDs)
	return s.renderSubscription(descriptors, err, enc, req.Plan)
}

func parseEncoding(encoding string) (subscription.Encoding, *ServiceError) {
	if encoding == "" {
		return subscription.EncodingJSON, nil
	}
	enc := subscription.Encoding(encoding)
	if !enc.IsValid() {
		return "", invalidArg("encoding must be one of json, uri, base64")
	}
	return enc, nil
}

func (s *ControlPlaneService) renderSubscription(
	descriptors []subscription.Descriptor,
	buildErr error,
	enc subscription.Encoding,
	plan *subscription.PlanMetadata,
) (SubscriptionResult, error) {
	var skipped []subscription.NodeFailure
	if buildErr != nil {
		var partial *subscription.PartialGenerationError
		if !errors.As(buildErr, &partial) {
			return SubscriptionResult{}, internal("build subscription", buildErr)
		}
		skipped = partial.Failures
	}
	if len(descriptors) == 0 {
		return SubscriptionResult{}, conflict("NO_USABLE_NODES", "no node has both an SNI assignment and key material")
	}

	if err := subscription.ValidateDescriptors(descriptors); err != nil {
		return SubscriptionResult{}, internal("subscription validation", err)
	}

	payload, contentType, err := subscription.EncodeWithMeta(descriptors, plan, enc)
	if err != nil {
		return SubscriptionResult{}, internal("encode subscription", err)
	}
	return SubscriptionResult{Payload: payload, ContentType: contentType, Skipped: skipped, Plan: plan}, nil
}
