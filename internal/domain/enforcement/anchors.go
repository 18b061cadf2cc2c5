package enforcement

import (
	"sort"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
)

// AssembleBoundaryAnchors builds the per-slice cartesian-product anchor text
// sets for a policy's constraints (spec.md §4.2 "Rule Vector"), grounded on
// original_source/management_plane/app/encoding.py's build_boundary_*_anchors
// functions. The semantic encoder truncates each list to
// semantic.MaxAnchorsPerSlot by sort-then-prefix; this function already
// returns lists in sorted order so truncation is deterministic.
func AssembleBoundaryAnchors(p *policy.Policy) map[vocabulary.Slot][]string {
	return map[vocabulary.Slot][]string{
		vocabulary.SlotAction:   actionAnchors(p),
		vocabulary.SlotResource: resourceAnchors(p),
		vocabulary.SlotData:     dataAnchors(p),
		vocabulary.SlotRisk:     riskAnchors(p),
	}
}

func actionAnchors(p *policy.Policy) []string {
	actions := sortedCopy(p.Constraints.Action.Actions)
	actorTypes := sortedCopy(p.Constraints.Action.ActorTypes)

	var out []string
	for _, action := range actions {
		for _, actorType := range actorTypes {
			out = append(out, "action is "+action+" | actor_type equals "+actorType)
		}
	}
	sort.Strings(out)
	return out
}

func resourceAnchors(p *policy.Policy) []string {
	types := sortedCopy(p.Constraints.Resource.Types)
	locations := p.Constraints.Resource.Locations
	if len(locations) == 0 {
		locations = []string{"unspecified"}
	}
	locations = sortedCopy(locations)

	var out []string
	for _, t := range types {
		for _, loc := range locations {
			out = append(out, "resource_type is "+t+" | resource_location is "+loc)
		}
	}
	for _, name := range sortedCopy(p.Constraints.Resource.Names) {
		out = append(out, "resource_name is "+name)
	}
	sort.Strings(out)
	return out
}

func dataAnchors(p *policy.Policy) []string {
	sensitivities := sortedCopy(p.Constraints.Data.Sensitivity)

	piiValues := []bool{true, false}
	if p.Constraints.Data.PII != nil {
		piiValues = []bool{*p.Constraints.Data.PII}
	}
	volumes := []string{vocabulary.VolumeSingle, vocabulary.VolumeBulk}
	if p.Constraints.Data.Volume != "" {
		volumes = []string{p.Constraints.Data.Volume}
	}

	var out []string
	for _, sens := range sensitivities {
		for _, pii := range piiValues {
			for _, vol := range volumes {
				out = append(out, "sensitivity is "+sens+" | pii is "+boolString(pii)+" | volume is "+vol)
			}
		}
	}
	sort.Strings(out)
	return out
}

func riskAnchors(p *policy.Policy) []string {
	return []string{"authn is " + p.Constraints.Risk.Authn}
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
