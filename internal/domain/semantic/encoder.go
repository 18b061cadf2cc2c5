package semantic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/intent"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
)

const instrumentationName = "github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"

// Encoder ties the vocabulary registry and an Embedder together to produce
// Intent Vectors and Rule Vectors (spec.md §4.2).
type Encoder struct {
	vocab    *vocabulary.Registry
	embedder Embedder

	tracer          trace.Tracer
	encodingLatency metric.Float64Histogram
}

// NewEncoder builds an Encoder. Pass a vocabulary.Registry built once at
// process start and an Embedder (typically wrapped with NewCachedEmbedder).
func NewEncoder(vocab *vocabulary.Registry, embedder Embedder) *Encoder {
	meter := otel.Meter(instrumentationName)
	encodingLatency, err := meter.Float64Histogram(
		"sentinelgate.semantic.encode_intent_duration",
		metric.WithDescription("Semantic Encoder EncodeIntent wall-clock duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		encodingLatency = noop.Float64Histogram{}
	}
	return &Encoder{
		vocab:           vocab,
		embedder:        embedder,
		tracer:          otel.Tracer(instrumentationName),
		encodingLatency: encodingLatency,
	}
}

// slotFields builds the field maps AssembleAnchor needs for each slot from
// an intent.Event, mirroring original_source's encoding.py build_*_slot
// functions.
func (e *Encoder) slotFields(ev *intent.Event) map[vocabulary.Slot]map[string]any {
	action := map[string]any{
		"action":     ev.Action,
		"actor_type": ev.Actor.Type,
	}
	if tc := ev.FormatToolCall(); tc != "" {
		action["tool_call"] = tc
	}

	resource := map[string]any{
		"resource_type": ev.Resource.Type,
	}
	if ev.Resource.Location != "" {
		resource["resource_location"] = ev.Resource.Location
	}
	if ev.Resource.Name != "" {
		resource["resource_name"] = ev.Resource.Name
	}
	if ev.ToolName != "" {
		resource["tool_name"] = ev.ToolName
		method := ev.ToolMethod
		if method == "" {
			method = ev.Action
		}
		resource["tool_method"] = method
	}

	sensitivity := "public"
	if len(ev.Data.Sensitivity) > 0 {
		sensitivity = ev.Data.Sensitivity[0]
	}
	pii := false
	if ev.Data.PII != nil {
		pii = *ev.Data.PII
	}
	volume := ev.Data.Volume
	if volume == "" {
		volume = "single"
	}
	data := map[string]any{
		"sensitivity": sensitivity,
		"pii":         pii,
		"volume":      volume,
	}
	if len(ev.ToolParams) > 0 && ev.ToolName != "" {
		canonical := intent.Canonicalize(ev.ToolParams)
		if canonical != "" {
			length := "short"
			if len(canonical) > 120 {
				length = "long"
			}
			data["params_length"] = length
		}
	}

	risk := map[string]any{"authn": ev.Risk.Authn}

	return map[vocabulary.Slot]map[string]any{
		vocabulary.SlotAction:   action,
		vocabulary.SlotResource: resource,
		vocabulary.SlotData:     data,
		vocabulary.SlotRisk:     risk,
	}
}

// EncodeIntent builds the 128-d Intent Vector for ev (spec.md §4.2).
func (e *Encoder) EncodeIntent(ctx context.Context, ev *intent.Event) (IntentVector, error) {
	ctx, span := e.tracer.Start(ctx, "semantic.EncodeIntent",
		trace.WithAttributes(attribute.String("sentinelgate.tool_name", ev.ToolName)),
	)
	start := time.Now()
	defer func() {
		e.encodingLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000)
		span.End()
	}()

	fields := e.slotFields(ev)

	var out IntentVector
	for i, slot := range vocabulary.Slots {
		text, err := e.vocab.AssembleAnchor(slot, fields[slot])
		if err != nil {
			err = fmt.Errorf("semantic: assemble %s slot: %w", slot, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return IntentVector{}, err
		}
		embedding, err := e.embedder.Embed(ctx, text)
		if err != nil {
			err = fmt.Errorf("semantic: embed %s slot: %w", slot, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return IntentVector{}, err
		}
		slotVec := projectAndNormalize(slot, embedding)
		copy(out[i*SlotDim:(i+1)*SlotDim], slotVec[:])
	}
	return out, nil
}

// SlotOf extracts slot i's 32-d block from an IntentVector.
func SlotOf(v IntentVector, i int) SlotVector {
	var s SlotVector
	copy(s[:], v[i*SlotDim:(i+1)*SlotDim])
	return s
}

// EncodeAnchors projects a list of already-assembled anchor texts for slot
// into a zero-padded AnchorMatrix, truncating deterministically at
// MaxAnchorsPerSlot by sort-then-prefix (spec.md §4.2 "Rule Vector").
func (e *Encoder) EncodeAnchors(ctx context.Context, slot vocabulary.Slot, texts []string) (AnchorMatrix, error) {
	sorted := make([]string, len(texts))
	copy(sorted, texts)
	sort.Strings(sorted)
	if len(sorted) > MaxAnchorsPerSlot {
		sorted = sorted[:MaxAnchorsPerSlot]
	}

	var m AnchorMatrix
	for i, text := range sorted {
		embedding, err := e.embedder.Embed(ctx, text)
		if err != nil {
			return AnchorMatrix{}, fmt.Errorf("semantic: embed anchor %q: %w", text, err)
		}
		m.Rows[i] = projectAndNormalize(slot, embedding)
	}
	m.Count = len(sorted)
	return m, nil
}

// EncodeRuleVector builds the full four-slot RuleVector for a policy given
// its per-slot anchor text sets (produced by AssembleBoundaryAnchors).
func (e *Encoder) EncodeRuleVector(ctx context.Context, anchorTexts map[vocabulary.Slot][]string) (RuleVector, error) {
	var rv RuleVector
	for i, slot := range vocabulary.Slots {
		m, err := e.EncodeAnchors(ctx, slot, anchorTexts[slot])
		if err != nil {
			return RuleVector{}, err
		}
		rv.Slots[i] = m
	}
	return rv, nil
}
