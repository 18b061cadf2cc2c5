package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/service"
)

// constraintsRequest is the JSON request body for a policy's per-slice
// allowed-value sets (spec.md §3 Constraints).
type constraintsRequest struct {
	Action struct {
		Actions    []string `json:"actions"`
		ActorTypes []string `json:"actor_types"`
	} `json:"action"`
	Resource struct {
		Types     []string `json:"types"`
		Names     []string `json:"names,omitempty"`
		Locations []string `json:"locations,omitempty"`
	} `json:"resource"`
	Data struct {
		Sensitivity []string `json:"sensitivity"`
		PII         *bool    `json:"pii,omitempty"`
		Volume      string   `json:"volume,omitempty"`
	} `json:"data"`
	Risk struct {
		Authn string `json:"authn"`
	} `json:"risk"`
}

// policyRequest is the JSON request body for creating/updating a policy.
type policyRequest struct {
	Name            string              `json:"name"`
	Status          string              `json:"status"`
	Effect          string              `json:"effect"`
	Type            string              `json:"type"`
	Priority        int                 `json:"priority"`
	Thresholds      [4]float64          `json:"thresholds"`
	Weights         [4]float64          `json:"weights"`
	Aggregation     string              `json:"aggregation"`
	GlobalThreshold *float64            `json:"global_threshold,omitempty"`
	Constraints     constraintsRequest  `json:"constraints"`
	Domains         []string            `json:"domains,omitempty"`
	DriftThreshold  *float64            `json:"drift_threshold,omitempty"`
	Notes           string              `json:"notes,omitempty"`
}

// policyResponse is the JSON response for a single policy.
type policyResponse struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Status          string             `json:"status"`
	Effect          string             `json:"effect"`
	Type            string             `json:"type"`
	Priority        int                `json:"priority"`
	Thresholds      [4]float64         `json:"thresholds"`
	Weights         [4]float64         `json:"weights"`
	Aggregation     string             `json:"aggregation"`
	GlobalThreshold *float64           `json:"global_threshold,omitempty"`
	Constraints     constraintsRequest `json:"constraints"`
	Domains         []string           `json:"domains,omitempty"`
	DriftThreshold  *float64           `json:"drift_threshold,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// toPolicyResponse converts a domain policy to an API response.
func toPolicyResponse(p *policy.Policy) policyResponse {
	var c constraintsRequest
	c.Action.Actions = p.Constraints.Action.Actions
	c.Action.ActorTypes = p.Constraints.Action.ActorTypes
	c.Resource.Types = p.Constraints.Resource.Types
	c.Resource.Names = p.Constraints.Resource.Names
	c.Resource.Locations = p.Constraints.Resource.Locations
	c.Data.Sensitivity = p.Constraints.Data.Sensitivity
	c.Data.PII = p.Constraints.Data.PII
	c.Data.Volume = p.Constraints.Data.Volume
	c.Risk.Authn = p.Constraints.Risk.Authn

	return policyResponse{
		ID:              p.ID,
		Name:            p.Name,
		Status:          string(p.Status),
		Effect:          string(p.Effect),
		Type:            string(p.Type),
		Priority:        p.Priority,
		Thresholds:      p.Thresholds,
		Weights:         p.Weights,
		Aggregation:     string(p.Aggregation),
		GlobalThreshold: p.GlobalThreshold,
		Constraints:     c,
		Domains:         p.Scope.Domains,
		DriftThreshold:  p.DriftThreshold,
		Notes:           p.Notes,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// toDomainPolicy converts a request body to a domain policy.
func toDomainPolicy(req policyRequest) *policy.Policy {
	return &policy.Policy{
		Name:            req.Name,
		Status:          policy.Status(req.Status),
		Effect:          policy.Effect(req.Effect),
		Type:            policy.Kind(req.Type),
		Priority:        req.Priority,
		Thresholds:      policy.SliceScores(req.Thresholds),
		Weights:         policy.SliceScores(req.Weights),
		Aggregation:     policy.Aggregation(req.Aggregation),
		GlobalThreshold: req.GlobalThreshold,
		Constraints: policy.Constraints{
			Action: policy.ActionConstraint{
				Actions:    req.Constraints.Action.Actions,
				ActorTypes: req.Constraints.Action.ActorTypes,
			},
			Resource: policy.ResourceConstraint{
				Types:     req.Constraints.Resource.Types,
				Names:     req.Constraints.Resource.Names,
				Locations: req.Constraints.Resource.Locations,
			},
			Data: policy.DataConstraint{
				Sensitivity: req.Constraints.Data.Sensitivity,
				PII:         req.Constraints.Data.PII,
				Volume:      req.Constraints.Data.Volume,
			},
			Risk: policy.RiskConstraint{Authn: req.Constraints.Risk.Authn},
		},
		Scope:          policy.Scope{Domains: req.Domains},
		DriftThreshold: req.DriftThreshold,
		Notes:          req.Notes,
	}
}

// WithPolicyAdminService sets the policy admin service on the AdminAPIHandler.
func WithPolicyAdminService(s *service.PolicyAdminService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.policyAdminService = s }
}

// handleListPolicies returns all policies as a JSON array.
// GET /admin/api/policies
func (h *AdminAPIHandler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	policies, err := h.policyAdminService.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list policies", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list policies")
		return
	}

	result := make([]policyResponse, len(policies))
	for i := range policies {
		result[i] = toPolicyResponse(&policies[i])
	}

	h.respondJSON(w, http.StatusOK, result)
}

// handleCreatePolicy creates a new policy from the request body.
// POST /admin/api/policies
func (h *AdminAPIHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	var req policyRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	p := toDomainPolicy(req)
	created, err := h.policyAdminService.Create(r.Context(), p)
	if err != nil {
		h.logger.Error("failed to create policy", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create policy")
		return
	}

	h.respondJSON(w, http.StatusCreated, toPolicyResponse(created))
}

// handleUpdatePolicy updates an existing policy.
// PUT /admin/api/policies/{id}
func (h *AdminAPIHandler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	id := h.pathParam(r, "id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "policy ID is required")
		return
	}

	var req policyRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	p := toDomainPolicy(req)
	updated, err := h.policyAdminService.Update(r.Context(), id, p)
	if err != nil {
		if errors.Is(err, service.ErrPolicyNotFound) {
			h.respondError(w, http.StatusNotFound, "policy not found")
			return
		}
		h.logger.Error("failed to update policy", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to update policy")
		return
	}

	h.respondJSON(w, http.StatusOK, toPolicyResponse(updated))
}

// handleDeletePolicy removes a policy by ID.
// DELETE /admin/api/policies/{id}
func (h *AdminAPIHandler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdminService == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	id := h.pathParam(r, "id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "policy ID is required")
		return
	}

	err := h.policyAdminService.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDefaultPolicyDelete) {
			h.respondError(w, http.StatusForbidden, "cannot delete the default policy")
			return
		}
		if errors.Is(err, service.ErrPolicyNotFound) {
			h.respondError(w, http.StatusNotFound, "policy not found")
			return
		}
		h.logger.Error("failed to delete policy", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to delete policy")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
