package enforcement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/intent"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/semantic"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
)

const instrumentationName = "github.com/Sentinel-Gate/Sentinelgate/internal/domain/enforcement"

// ErrEncodingFailed classes a C2 encoding failure, per spec.md §7.
type ErrEncodingFailed struct{ Err error }

func (e *ErrEncodingFailed) Error() string { return fmt.Sprintf("enforcement: encoding failed: %v", e.Err) }
func (e *ErrEncodingFailed) Unwrap() error  { return e.Err }

// Options configures Engine construction.
type Options struct {
	Mode      ApplicabilityMode
	MinScore  float64
	CacheSize int
	Logger    *slog.Logger
}

// Engine is the sole implementation of policy.PolicyEngine. It is the
// hottest path in the system (spec.md §4.4).
type Engine struct {
	store    policy.AnchorStore
	encoder  *semantic.Encoder
	mode     ApplicabilityMode
	minScore float64
	cache    *resultCache
	logger   *slog.Logger

	tracer            trace.Tracer
	evaluationLatency metric.Float64Histogram
}

// New builds an Engine. store supplies the per-tenant (policy, anchors)
// snapshot; encoder turns intents into comparable vectors.
func New(store policy.AnchorStore, encoder *semantic.Encoder, opts Options) *Engine {
	if opts.Mode == "" {
		opts.Mode = ModeSoft
	}
	if opts.MinScore == 0 {
		opts.MinScore = 0.5
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	meter := otel.Meter(instrumentationName)
	evaluationLatency, err := meter.Float64Histogram(
		"sentinelgate.enforcement.evaluation_duration",
		metric.WithDescription("Enforcement Engine EvaluateIntent wall-clock duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		// otel's own Float64Histogram only errors on a malformed instrument
		// config, which never happens with the literal options above; a nil
		// histogram would be a silent no-op either way, so fall back to one.
		evaluationLatency = noop.Float64Histogram{}
	}

	return &Engine{
		store:             store,
		encoder:           encoder,
		mode:              opts.Mode,
		minScore:          opts.MinScore,
		cache:             newResultCache(opts.CacheSize),
		logger:            opts.Logger,
		tracer:            otel.Tracer(instrumentationName),
		evaluationLatency: evaluationLatency,
	}
}

// InvalidateCache drops every cached decision. Callers that install, update,
// or delete a policy must call this afterward — the result cache is keyed
// solely on the intent event (cacheKey), so a stale decision for an
// already-seen intent would otherwise survive a policy change until evicted.
func (e *Engine) InvalidateCache() {
	e.cache.clear()
}

// Evaluate adapts the teacher's legacy EvaluationContext call shape onto
// EvaluateIntent by building a minimal intent.Event from it. New call sites
// should prefer EvaluateIntent directly.
func (e *Engine) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	pii := false
	ev := &intent.Event{
		SchemaVersion: intent.SchemaV1_3,
		TenantID:      evalCtx.IdentityID,
		Timestamp:     evalCtx.RequestTime,
		Actor:         intent.Actor{ID: evalCtx.IdentityID, Type: vocabulary.ActorUser},
		Action:        vocabulary.ActionExecute,
		Resource:      intent.Resource{Type: vocabulary.ResourceAPI},
		Data:          intent.Data{PII: &pii, Volume: vocabulary.VolumeSingle},
		Risk:          intent.Risk{Authn: vocabulary.AuthnRequired},
		ToolName:      evalCtx.ToolName,
		ToolParams:    evalCtx.ToolArguments,
	}
	return e.EvaluateIntent(ctx, ev)
}

// EvaluateIntent runs the full encode -> select -> similarity ->
// deny-first-aggregation pipeline for one Intent Event (spec.md §4.4).
func (e *Engine) EvaluateIntent(ctx context.Context, ev *intent.Event) (policy.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "enforcement.EvaluateIntent",
		trace.WithAttributes(
			attribute.String("sentinelgate.tenant_id", ev.TenantID),
			attribute.String("sentinelgate.action", ev.Action),
			attribute.String("sentinelgate.resource_type", ev.Resource.Type),
		),
	)
	start := time.Now()
	defer func() {
		span.End()
	}()

	key := cacheKey(ev)
	if d, ok := e.cache.get(key); ok {
		e.recordEvaluation(ctx, start, d.Allowed, true)
		span.SetAttributes(attribute.Bool("sentinelgate.cache_hit", true), attribute.Bool("sentinelgate.allowed", d.Allowed))
		return d, nil
	}

	d, err := e.evaluateUncached(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return policy.Decision{}, err
	}
	e.cache.put(key, d)
	e.recordEvaluation(ctx, start, d.Allowed, false)
	span.SetAttributes(attribute.Bool("sentinelgate.cache_hit", false), attribute.Bool("sentinelgate.allowed", d.Allowed))
	return d, nil
}

// recordEvaluation publishes the EvaluateIntent wall-clock duration as an
// otel histogram, tagged by decision and cache outcome.
func (e *Engine) recordEvaluation(ctx context.Context, start time.Time, allowed, cacheHit bool) {
	e.evaluationLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(
			attribute.Bool("allowed", allowed),
			attribute.Bool("cache_hit", cacheHit),
		),
	)
}

func (e *Engine) evaluateUncached(ctx context.Context, ev *intent.Event) (policy.Decision, error) {
	now := time.Now().UTC()

	intentVec, err := e.encoder.EncodeIntent(ctx, ev)
	if err != nil {
		return policy.Decision{}, &ErrEncodingFailed{Err: err}
	}

	boundaries, err := e.store.ActivePolicies(ctx, ev.TenantID)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("enforcement: load active policies: %w", err)
	}

	if len(boundaries) == 0 {
		e.logger.WarnContext(ctx, "no policies configured for tenant; allowing by cold-start default", "tenant_id", ev.TenantID)
		return policy.Decision{
			Allowed:           true,
			Reason:            "no policies configured",
			SliceSimilarities: policy.SliceScores{},
			Timestamp:         now,
		}, nil
	}

	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i].Policy.Priority < boundaries[j].Policy.Priority })

	var denies, mandatoryAllows, optionalAllows []policy.ActiveBoundary
	for _, b := range boundaries {
		switch b.Policy.Effect {
		case policy.EffectDeny:
			denies = append(denies, b)
		case policy.EffectAllow:
			if b.Policy.Type == policy.KindMandatory {
				mandatoryAllows = append(mandatoryAllows, b)
			} else {
				optionalAllows = append(optionalAllows, b)
			}
		}
	}

	var evidence []policy.EvidenceRecord
	applicableCount := 0

	appendEvidence := func(b policy.ActiveBoundary, sims policy.SliceScores, local bool) {
		evidence = append(evidence, policy.EvidenceRecord{
			PolicyID:        b.Policy.ID,
			PolicyName:      b.Policy.Name,
			Effect:          b.Policy.Effect,
			LocalDecision:   local,
			SliceSimilarity: sims,
		})
	}

	// Deny phase: first deny whose local decision is 1 short-circuits to BLOCK.
	for _, b := range denies {
		ar := evaluateApplicability(ev, &b.Policy, e.mode, e.minScore)
		if !ar.Applicable {
			continue
		}
		applicableCount++
		sims := sliceSimilarities(intentVec, b.Anchors)
		local := localDecision(&b.Policy, sims)
		appendEvidence(b, sims, local)
		if local {
			return policy.Decision{
				Allowed:           false,
				RuleID:            b.Policy.ID,
				RuleName:          b.Policy.Name,
				Reason:            fmt.Sprintf("matched deny policy %q", b.Policy.Name),
				SliceSimilarities: sims,
				PoliciesEvaluated: applicableCount,
				Evidence:          evidence,
				Timestamp:         now,
			}, nil
		}
	}

	// Allow phase: reached only if no deny matched.
	var applicableMandatory []policy.ActiveBoundary
	var mandatorySims []policy.SliceScores
	allAllow := true
	for _, b := range mandatoryAllows {
		ar := evaluateApplicability(ev, &b.Policy, e.mode, e.minScore)
		if !ar.Applicable {
			continue
		}
		applicableCount++
		sims := sliceSimilarities(intentVec, b.Anchors)
		local := localDecision(&b.Policy, sims)
		appendEvidence(b, sims, local)
		applicableMandatory = append(applicableMandatory, b)
		mandatorySims = append(mandatorySims, sims)
		if !local {
			allAllow = false
		}
	}

	// Evaluate optional-allow policies for evidence only; they never change
	// the verdict (spec.md §4.4 step 3, MVP scope).
	for _, b := range optionalAllows {
		ar := evaluateApplicability(ev, &b.Policy, e.mode, e.minScore)
		if !ar.Applicable {
			continue
		}
		applicableCount++
		sims := sliceSimilarities(intentVec, b.Anchors)
		local := localDecision(&b.Policy, sims)
		appendEvidence(b, sims, local)
	}

	if len(applicableMandatory) == 0 {
		return policy.Decision{
			Allowed:           false,
			Reason:            "no applicable boundaries",
			SliceSimilarities: policy.SliceScores{},
			PoliciesEvaluated: applicableCount,
			Evidence:          evidence,
			Timestamp:         now,
		}, nil
	}

	if allAllow {
		return policy.Decision{
			Allowed:           true,
			Reason:            "all mandatory allow policies matched",
			SliceSimilarities: averageSims(mandatorySims),
			PoliciesEvaluated: applicableCount,
			Evidence:          evidence,
			Timestamp:         now,
		}, nil
	}

	return policy.Decision{
		Allowed:           false,
		Reason:            "a mandatory allow policy did not match",
		SliceSimilarities: minSims(mandatorySims),
		PoliciesEvaluated: applicableCount,
		Evidence:          evidence,
		Timestamp:         now,
	}, nil
}

// sliceSimilarities computes the per-slice max-pooled cosine similarity
// between intentVec and a policy's anchors (spec.md §4.4).
func sliceSimilarities(intentVec semantic.IntentVector, anchors semantic.RuleVector) policy.SliceScores {
	var out policy.SliceScores
	for i := range vocabulary.Slots {
		slotVec := semantic.SlotOf(intentVec, i)
		out[i] = semantic.CosineMaxPool(slotVec, anchors.Slots[i])
	}
	return out
}

// localDecision applies a policy's aggregation mode to its per-slice
// similarities (spec.md §4.4 "Local decision per policy").
func localDecision(p *policy.Policy, sims policy.SliceScores) bool {
	switch p.Aggregation {
	case policy.AggregationWeightedAvg:
		var num, den float64
		for i := range sims {
			num += p.Weights[i] * sims[i]
			den += p.Weights[i]
		}
		score := 0.0
		if den != 0 {
			score = num / den
		}
		threshold := 0.0
		if p.GlobalThreshold != nil {
			threshold = *p.GlobalThreshold
		}
		if score < threshold {
			return false
		}
		fallthrough
	default: // min
		for i := range sims {
			if sims[i] < p.Thresholds[i] {
				return false
			}
		}
		return true
	}
}

func averageSims(all []policy.SliceScores) policy.SliceScores {
	var out policy.SliceScores
	if len(all) == 0 {
		return out
	}
	for _, s := range all {
		for i := range s {
			out[i] += s[i]
		}
	}
	for i := range out {
		out[i] /= float64(len(all))
	}
	return out
}

func minSims(all []policy.SliceScores) policy.SliceScores {
	if len(all) == 0 {
		return policy.SliceScores{}
	}
	out := all[0]
	for _, s := range all[1:] {
		for i := range s {
			if s[i] < out[i] {
				out[i] = s[i]
			}
		}
	}
	return out
}

func cacheKey(ev *intent.Event) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(ev.TenantID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ev.Actor.Type)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ev.Action)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ev.Resource.Type)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ev.Resource.Name)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ev.ToolName)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ev.ToolMethod)
	return h.Sum64()
}

var _ policy.PolicyEngine = (*Engine)(nil)
