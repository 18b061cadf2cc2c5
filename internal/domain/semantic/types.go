// Package semantic implements the encoder pipeline (C2): deterministic
// conversion of canonical slot text into fixed-dimensional vectors whose
// per-slice cosine similarity is a meaningful "same slot situation?" score.
package semantic

import "github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"

// SlotDim is the per-slice vector width after sparse random projection.
const SlotDim = 32

// IntentDim is the concatenated intent/rule-vector width (4 slots × 32).
const IntentDim = SlotDim * len(vocabulary.Slots)

// MaxAnchorsPerSlot is the per-slice anchor cap of spec.md §3/§4.2.
const MaxAnchorsPerSlot = 16

// SlotVector is a 32-dimensional L2-normalised real vector representing one
// of the four semantic slices. It is the zero vector when the underlying
// projection collapsed to zero norm.
type SlotVector [SlotDim]float32

// IntentVector is the fixed-order concatenation of the four slot vectors:
// ||v||₂ = 2 when every slot is itself unit-normalised (spec.md §3).
type IntentVector [IntentDim]float32

// AnchorMatrix holds up to MaxAnchorsPerSlot 32-d rows for one slice of one
// policy; rows at index >= Count are the zero vector (spec.md §3 "Rule
// Vector").
type AnchorMatrix struct {
	Rows  [MaxAnchorsPerSlot]SlotVector
	Count int
}

// RuleVector is a policy encoded as four slices of up to 16 anchors each.
type RuleVector struct {
	Slots [len(vocabulary.Slots)]AnchorMatrix
}
