// Package enforcement implements the Enforcement Engine (C4): the hottest
// path in the system. For one intent it selects applicable policies,
// computes per-slice similarities against anchors, applies deny-first
// aggregation, and returns a verdict with evidence.
package enforcement

import (
	"fmt"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/intent"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

// RuleDecision is the tri-state outcome of one applicability rule
// (spec.md §4.4), grounded line-for-line on
// original_source/management_plane/app/applicability.py.
type RuleDecision string

const (
	DecisionMatch    RuleDecision = "match"
	DecisionMismatch RuleDecision = "mismatch"
	DecisionAbstain  RuleDecision = "abstain"
)

// RuleKind distinguishes rules whose mismatch disqualifies a policy
// outright (core) from ones that only vote toward a soft score (soft).
type RuleKind string

const (
	KindCore RuleKind = "core"
	KindSoft RuleKind = "soft"
)

// RuleOutcome is one applicability rule's verdict for an (intent, policy)
// pair.
type RuleOutcome struct {
	RuleID   string
	Decision RuleDecision
	Weight   float64
	Reason   string
}

// applicabilityRule is the closed, enumerated family of rules; no dynamic
// registration (spec.md §9 "soft-rule scoring polymorphism" redesign flag).
type applicabilityRule interface {
	id() string
	kind() RuleKind
	weight() float64
	evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome
}

type baseRule struct {
	ruleID string
	k      RuleKind
	w      float64
}

func (b baseRule) id() string      { return b.ruleID }
func (b baseRule) kind() RuleKind  { return b.k }
func (b baseRule) weight() float64 { return b.w }

func (b baseRule) outcome(d RuleDecision, reason string) RuleOutcome {
	return RuleOutcome{RuleID: b.ruleID, Decision: d, Weight: b.w, Reason: reason}
}

type actionRule struct{ baseRule }

func (r actionRule) evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome {
	if contains(p.Constraints.Action.Actions, ev.Action) {
		return r.outcome(DecisionMatch, fmt.Sprintf("action %s in %v", ev.Action, p.Constraints.Action.Actions))
	}
	return r.outcome(DecisionMismatch, fmt.Sprintf("action %s not in %v", ev.Action, p.Constraints.Action.Actions))
}

type actorTypeRule struct{ baseRule }

func (r actorTypeRule) evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome {
	if contains(p.Constraints.Action.ActorTypes, ev.Actor.Type) {
		return r.outcome(DecisionMatch, fmt.Sprintf("actor %s in %v", ev.Actor.Type, p.Constraints.Action.ActorTypes))
	}
	return r.outcome(DecisionMismatch, fmt.Sprintf("actor %s not in %v", ev.Actor.Type, p.Constraints.Action.ActorTypes))
}

type resourceTypeRule struct{ baseRule }

func (r resourceTypeRule) evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome {
	if contains(p.Constraints.Resource.Types, ev.Resource.Type) {
		return r.outcome(DecisionMatch, fmt.Sprintf("resource.type %s in %v", ev.Resource.Type, p.Constraints.Resource.Types))
	}
	return r.outcome(DecisionMismatch, fmt.Sprintf("resource.type %s not in %v", ev.Resource.Type, p.Constraints.Resource.Types))
}

type locationRule struct{ baseRule }

func (r locationRule) evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome {
	locations := p.Constraints.Resource.Locations
	if len(locations) == 0 {
		return r.outcome(DecisionAbstain, "boundary has no location constraint")
	}
	if ev.Resource.Location == "" {
		return r.outcome(DecisionAbstain, "intent has no resource.location")
	}
	if contains(locations, ev.Resource.Location) {
		return r.outcome(DecisionMatch, fmt.Sprintf("location %s in %v", ev.Resource.Location, locations))
	}
	return r.outcome(DecisionMismatch, fmt.Sprintf("location %s not in %v", ev.Resource.Location, locations))
}

type piiRule struct{ baseRule }

func (r piiRule) evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome {
	target := p.Constraints.Data.PII
	if target == nil {
		return r.outcome(DecisionAbstain, "boundary has no pii requirement")
	}
	if ev.Data.PII == nil {
		return r.outcome(DecisionAbstain, "intent has no pii field")
	}
	if *ev.Data.PII == *target {
		return r.outcome(DecisionMatch, fmt.Sprintf("pii == %v", *target))
	}
	return r.outcome(DecisionMismatch, fmt.Sprintf("pii != %v", *target))
}

type volumeRule struct{ baseRule }

func (r volumeRule) evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome {
	target := p.Constraints.Data.Volume
	if target == "" {
		return r.outcome(DecisionAbstain, "boundary has no volume requirement")
	}
	if ev.Data.Volume == "" {
		return r.outcome(DecisionAbstain, "intent has no volume field")
	}
	if ev.Data.Volume == target {
		return r.outcome(DecisionMatch, fmt.Sprintf("volume == %s", target))
	}
	return r.outcome(DecisionMismatch, fmt.Sprintf("volume != %s", target))
}

type domainRule struct{ baseRule }

func (r domainRule) evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome {
	domains := p.Scope.Domains
	if len(domains) == 0 {
		return r.outcome(DecisionAbstain, "no scope.domains constraint")
	}
	if contains(domains, ev.Resource.Type) {
		return r.outcome(DecisionMatch, fmt.Sprintf("resource.type %s in scope.domains %v", ev.Resource.Type, domains))
	}
	return r.outcome(DecisionMismatch, fmt.Sprintf("resource.type %s not in scope.domains %v", ev.Resource.Type, domains))
}

type resourceNameRule struct{ baseRule }

func (r resourceNameRule) evaluate(ev *intent.Event, p *policy.Policy) RuleOutcome {
	names := p.Constraints.Resource.Names
	if len(names) == 0 {
		return r.outcome(DecisionAbstain, "boundary has no resource.names constraint")
	}
	if ev.Resource.Name == "" {
		return r.outcome(DecisionAbstain, "intent has no resource.name")
	}
	if contains(names, ev.Resource.Name) {
		return r.outcome(DecisionMatch, fmt.Sprintf("resource.name %s in %v", ev.Resource.Name, names))
	}
	return r.outcome(DecisionMismatch, fmt.Sprintf("resource.name %s not in %v", ev.Resource.Name, names))
}

var coreRules = []applicabilityRule{
	actionRule{baseRule{"ActionRule", KindCore, 1.0}},
	actorTypeRule{baseRule{"ActorTypeRule", KindCore, 1.0}},
	resourceTypeRule{baseRule{"ResourceTypeRule", KindCore, 1.0}},
}

var softRules = []applicabilityRule{
	locationRule{baseRule{"LocationRule", KindSoft, 0.5}},
	piiRule{baseRule{"PiiRule", KindSoft, 0.5}},
	volumeRule{baseRule{"VolumeRule", KindSoft, 0.5}},
	domainRule{baseRule{"DomainRule", KindSoft, 0.25}},
	resourceNameRule{baseRule{"ResourceNameRule", KindSoft, 0.25}},
}

// ApplicabilityMode toggles strict soft-rule enforcement.
type ApplicabilityMode string

const (
	ModeSoft   ApplicabilityMode = "soft"
	ModeStrict ApplicabilityMode = "strict"
)

// ApplicabilityResult is the outcome of evaluating one (intent, policy) pair.
type ApplicabilityResult struct {
	Applicable bool
	Score      float64
	Outcomes   []RuleOutcome
}

// evaluateApplicability runs the full core+soft rule family against one
// policy, per spec.md §4.4.
func evaluateApplicability(ev *intent.Event, p *policy.Policy, mode ApplicabilityMode, minScore float64) ApplicabilityResult {
	outcomes := make([]RuleOutcome, 0, len(coreRules)+len(softRules))

	for _, r := range coreRules {
		o := r.evaluate(ev, p)
		outcomes = append(outcomes, o)
		if o.Decision == DecisionMismatch {
			return ApplicabilityResult{Applicable: false, Score: 0, Outcomes: outcomes}
		}
	}

	var num, den float64
	var anyMismatch bool
	for _, r := range softRules {
		o := r.evaluate(ev, p)
		outcomes = append(outcomes, o)
		switch o.Decision {
		case DecisionAbstain:
			continue
		case DecisionMatch:
			num += o.Weight
			den += o.Weight
		case DecisionMismatch:
			num -= o.Weight
			den += o.Weight
			anyMismatch = true
		}
	}

	score := 1.0
	if den != 0 {
		score = (num + den) / (2 * den)
	}

	if mode == ModeStrict && anyMismatch {
		return ApplicabilityResult{Applicable: false, Score: score, Outcomes: outcomes}
	}

	return ApplicabilityResult{Applicable: score >= minScore, Score: score, Outcomes: outcomes}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
