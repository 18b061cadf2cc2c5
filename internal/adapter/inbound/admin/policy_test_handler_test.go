package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/enforcement"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
	"github.com/Sentinel-Gate/Sentinelgate/internal/service"
)

// testPolicyTestEnv builds a handler with the seeded default Design
// Boundaries installed, against which handleTestPolicy's Evaluate call runs.
func testPolicyTestEnv(t *testing.T) *AdminAPIHandler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	policyStore := memory.NewPolicyStore()

	vocab, err := vocabulary.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	enc := semantic.NewEncoder(vocab, semantic.HashEmbedder{})
	policySvc := service.NewPolicyService(policyStore, enc, enforcement.Options{}, logger)

	h := NewAdminAPIHandler(
		WithPolicyService(policySvc),
		WithPolicyStore(policyStore),
		WithAPILogger(logger),
	)

	return h
}

func TestHandleTestPolicy_MissingToolName(t *testing.T) {
	h := testPolicyTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/api/policies/test", bytes.NewBufferString(`{"roles":["admin"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleTestPolicy(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHandleTestPolicy_InvalidJSON(t *testing.T) {
	h := testPolicyTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/api/policies/test", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleTestPolicy(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHandleTestPolicy_NoPoliciesInstalled(t *testing.T) {
	h := testPolicyTestEnv(t)

	body := `{"tool_name":"read_file","roles":["admin"]}`
	req := httptest.NewRequest(http.MethodPost, "/admin/api/policies/test", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleTestPolicy(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d, body: %s", resp.StatusCode, http.StatusOK, string(bodyBytes))
	}

	var result PolicyTestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// No Design Boundaries exist for the tenant at all, so the engine's
	// cold-start default allows rather than denying.
	if !result.Allowed {
		t.Errorf("expected cold-start allow with no policies installed, got deny: %s", result.Reason)
	}
	if result.Decision != "allow" {
		t.Errorf("decision = %q, want %q", result.Decision, "allow")
	}
	if result.Reason == "" {
		t.Error("reason should not be empty")
	}
}

func TestHandleTestPolicy_DeniesWhenNoBoundaryApplies(t *testing.T) {
	h := testPolicyTestEnv(t)

	// handleTestPolicy goes through the legacy EvaluationContext adapter
	// (enforcement.Engine.Evaluate), which always synthesizes an
	// ActorUser/ActionExecute/ResourceAPI intent keyed by IdentityID as the
	// tenant. Install a boundary for the same tenant that only ever matches
	// database reads by a service actor, so it never applies to that shape.
	p := &policy.Policy{
		TenantID: "tester-1",
		Name:     "allow service database reads only",
		Status:   policy.StatusActive,
		Effect:   policy.EffectAllow,
		Type:     policy.KindMandatory,
		Weights:  policy.DefaultWeights(),
		Constraints: policy.Constraints{
			Action:   policy.ActionConstraint{Actions: []string{vocabulary.ActionRead}, ActorTypes: []string{vocabulary.ActorService}},
			Resource: policy.ResourceConstraint{Types: []string{vocabulary.ResourceDatabase}},
		},
	}
	if err := h.policyService.InstallPolicy(context.Background(), p); err != nil {
		t.Fatalf("InstallPolicy: %v", err)
	}

	body := `{"tool_name":"read_file","roles":["admin"],"identity_id":"tester-1"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/api/policies/test", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleTestPolicy(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d, body: %s", resp.StatusCode, http.StatusOK, string(bodyBytes))
	}

	var result PolicyTestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Allowed {
		t.Error("expected deny when no installed boundary applies to the request")
	}
	if result.Decision != "deny" {
		t.Errorf("decision = %q, want %q", result.Decision, "deny")
	}
}

func TestHandleTestPolicy_NoPolicyService(t *testing.T) {
	h := NewAdminAPIHandler(
		WithAPILogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))),
	)

	body := `{"tool_name":"read_file","roles":["admin"]}`
	req := httptest.NewRequest(http.MethodPost, "/admin/api/policies/test", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleTestPolicy(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d (no policy service configured)", resp.StatusCode, http.StatusInternalServerError)
	}
}
