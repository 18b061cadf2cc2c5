// Package vocabulary holds the fixed enumerations and slot templates shared
// by every encoder and canonicaliser in the semantic enforcement core. The
// registry is loaded once from a declarative file at startup and is
// process-wide immutable: callers obtain a *Registry value during bootstrap
// and pass it down explicitly (no package-level globals), per the
// "process-wide singletons" redesign flag.
package vocabulary

import "fmt"

// Slot identifies one of the four semantic slices an intent or policy is
// encoded into.
type Slot string

const (
	SlotAction   Slot = "action"
	SlotResource Slot = "resource"
	SlotData     Slot = "data"
	SlotRisk     Slot = "risk"
)

// Slots lists the four slots in their fixed, canonical order. Every
// IntentVector/RuleVector concatenation iterates this exact order.
var Slots = [4]Slot{SlotAction, SlotResource, SlotData, SlotRisk}

// Closed vocabulary sets (spec.md §3).
const (
	ActionRead    = "read"
	ActionWrite   = "write"
	ActionDelete  = "delete"
	ActionExport  = "export"
	ActionExecute = "execute"
	ActionUpdate  = "update"

	ActorUser    = "user"
	ActorService = "service"
	ActorLLM     = "llm"
	ActorAgent   = "agent"

	ResourceDatabase = "database"
	ResourceFile     = "file"
	ResourceAPI      = "api"

	SensitivityInternal = "internal"
	SensitivityPublic   = "public"

	VolumeSingle = "single"
	VolumeBulk   = "bulk"

	AuthnRequired    = "required"
	AuthnNotRequired = "not_required"
)

var (
	validActions = map[string]bool{
		ActionRead: true, ActionWrite: true, ActionDelete: true,
		ActionExport: true, ActionExecute: true, ActionUpdate: true,
	}
	validActorTypes = map[string]bool{
		ActorUser: true, ActorService: true, ActorLLM: true, ActorAgent: true,
	}
	validResourceTypes = map[string]bool{
		ResourceDatabase: true, ResourceFile: true, ResourceAPI: true,
	}
	validSensitivity = map[string]bool{
		SensitivityInternal: true, SensitivityPublic: true,
	}
	validVolumes = map[string]bool{
		VolumeSingle: true, VolumeBulk: true,
	}
	validAuthn = map[string]bool{
		AuthnRequired: true, AuthnNotRequired: true,
	}
)

// ErrUnknownValue is returned when a caller asks the vocabulary to validate
// or assemble a value outside the closed vocabulary set.
type ErrUnknownValue struct {
	Set   string
	Value string
}

func (e *ErrUnknownValue) Error() string {
	return fmt.Sprintf("vocabulary: %q is not a valid %s", e.Value, e.Set)
}

// ValidActions returns the canonical action set.
func ValidActions() []string { return keysOf(validActions) }

// ValidActorTypes returns the canonical actor-type set.
func ValidActorTypes() []string { return keysOf(validActorTypes) }

// ValidResourceTypes returns the canonical resource-type set.
func ValidResourceTypes() []string { return keysOf(validResourceTypes) }

// ValidSensitivity returns the canonical sensitivity set.
func ValidSensitivity() []string { return keysOf(validSensitivity) }

// ValidVolumes returns the canonical volume set.
func ValidVolumes() []string { return keysOf(validVolumes) }

// ValidAuthn returns the canonical authn set.
func ValidAuthn() []string { return keysOf(validAuthn) }

// IsValidAction reports whether v is a recognised canonical action.
func IsValidAction(v string) bool { return validActions[v] }

// IsValidActorType reports whether v is a recognised canonical actor type.
func IsValidActorType(v string) bool { return validActorTypes[v] }

// IsValidResourceType reports whether v is a recognised canonical resource type.
func IsValidResourceType(v string) bool { return validResourceTypes[v] }

// IsValidSensitivity reports whether v is a recognised canonical sensitivity level.
func IsValidSensitivity(v string) bool { return validSensitivity[v] }

// IsValidVolume reports whether v is a recognised canonical volume.
func IsValidVolume(v string) bool { return validVolumes[v] }

// IsValidAuthn reports whether v is a recognised canonical authn level.
func IsValidAuthn(v string) bool { return validAuthn[v] }

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
