package engine

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/explain"
	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/outcome"
	"github.com/tunogya/fractal/pkg/rerank"
	"github.com/tunogya/fractal/pkg/window"
)

// AgeDecayConfig controls the optional age-decay rerank of the top-K matches
type AgeDecayConfig struct {
	Enabled bool    `yaml:"enabled"`
	Lambda  float64 `yaml:"lambda" default:"0.12" validate:"gte=0"`
}

// Config holds engine settings
type Config struct {
	CacheTTL             time.Duration          `yaml:"cache_ttl" default:"1h"`
	WindowLengths        []int                  `yaml:"window_lengths"`
	IndexModes           []model.Representation `yaml:"index_modes"`
	DefaultHorizonDays   int                    `yaml:"default_horizon_days" default:"30" validate:"gte=1"`
	MinGapFloorDays      int                    `yaml:"min_gap_floor_days" default:"120" validate:"gte=0"`
	StabilitySampleFloor int                    `yaml:"stability_sample_floor" default:"25" validate:"gte=1"`
	MinQuality           float64                `yaml:"min_quality" validate:"gte=0,lte=1"`
	AgeDecay             AgeDecayConfig         `yaml:"age_decay"`
}

// DefaultConfig returns default engine settings
func DefaultConfig() Config {
	return Config{
		CacheTTL:             time.Hour,
		WindowLengths:        append([]int(nil), window.SupportedLengths...),
		IndexModes:           []model.Representation{model.LogReturnsZScore, model.RawReturns},
		DefaultHorizonDays:   30,
		MinGapFloorDays:      120,
		StabilitySampleFloor: 25,
		AgeDecay:             AgeDecayConfig{Lambda: rerank.DefaultLambda},
	}
}

// WithDefaults fills zero settings with DefaultConfig values
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if len(c.WindowLengths) == 0 {
		c.WindowLengths = def.WindowLengths
	}
	if len(c.IndexModes) == 0 {
		c.IndexModes = def.IndexModes
	}
	if c.DefaultHorizonDays <= 0 {
		c.DefaultHorizonDays = def.DefaultHorizonDays
	}
	if c.MinGapFloorDays < 0 {
		c.MinGapFloorDays = def.MinGapFloorDays
	}
	if c.StabilitySampleFloor <= 0 {
		c.StabilitySampleFloor = def.StabilitySampleFloor
	}
	if c.AgeDecay.Lambda <= 0 {
		c.AgeDecay.Lambda = def.AgeDecay.Lambda
	}
	return c
}

// FeatureSink receives the ML feature record of every successful match.
// Submit must not block.
type FeatureSink interface {
	Submit(rec model.FeatureRecord) error
}

// Option configures an Engine
type Option func(*Engine)

// WithConfig sets the engine settings
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock sets the time source used for cache freshness
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithFeatureSink sets where ML feature records are sent
func WithFeatureSink(s FeatureSink) Option {
	return func(e *Engine) { e.sink = s }
}

// Engine answers match queries against cached series snapshots
type Engine struct {
	provider data.SeriesProvider
	cfg      Config
	log      zerolog.Logger
	clock    func() time.Time
	metrics  *metrics.Recorder
	sink     FeatureSink

	outcomes  *outcome.Calculator
	reranker  *rerank.Reranker
	explainer *explain.Builder
	validate  *validator.Validate

	caches    sync.Map // cacheKey -> *seriesCache
	flight    singleflight.Group
	cfgDigest []byte // settings that shape responses, mixed into snapshot fingerprints
}

// New creates an engine reading series from provider
func New(provider data.SeriesProvider, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		cfg:      DefaultConfig(),
		log:      zerolog.Nop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cfg = e.cfg.WithDefaults()
	e.cfgDigest, _ = json.Marshal(e.cfg)
	e.log = e.log.With().Str("component", "engine").Logger()
	e.outcomes = outcome.NewCalculator(outcome.Config{SampleFloor: e.cfg.StabilitySampleFloor})
	e.reranker = rerank.NewReranker(rerank.TimeDecayConfig{
		Enabled: e.cfg.AgeDecay.Enabled,
		Lambda:  e.cfg.AgeDecay.Lambda,
	})
	e.explainer = explain.NewBuilder(explain.Config{SampleFloor: e.cfg.StabilitySampleFloor})

	e.validate = validator.New()
	e.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return e
}

// Config returns the effective engine settings
func (e *Engine) Config() Config {
	return e.cfg
}

// MinGap is the minimum distance in bars between the current window end and any match end
func (e *Engine) MinGap(horizonDays int) int {
	if g := 2 * horizonDays; g > e.cfg.MinGapFloorDays {
		return g
	}
	return e.cfg.MinGapFloorDays
}

// normalize applies request defaults and validates it
func (e *Engine) normalize(ctx context.Context, req *model.MatchRequest) error {
	if err := defaults.Set(req); err != nil {
		return invalid("engine.match", err)
	}
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return invalid("engine.match", err)
	}
	return nil
}

// candidate is one scored historical window
type candidate struct {
	end        int
	similarity float64
}

// Match finds the top-K historical windows most similar to the latest window of the
// requested series and summarizes what followed them.
//
// Only validation and series load failures are returned as errors. Too little data
// and an empty candidate set produce a response with OK false and a Reason.
func (e *Engine) Match(ctx context.Context, req model.MatchRequest) (*model.MatchResponse, error) {
	resp, _, err := e.observe(ctx, &req)
	return resp, err
}

// observe runs a match and records its metrics. It also returns the working series.
func (e *Engine) observe(ctx context.Context, req *model.MatchRequest) (*model.MatchResponse, model.Series, error) {
	start := time.Now()
	resp, working, err := e.match(ctx, req)

	// only validated window lengths become label values
	windowLen, result := strconv.Itoa(req.WindowLen), "error"
	switch {
	case IsValidation(err):
		windowLen, result = "invalid", "invalid"
	case err != nil:
	case resp.OK:
		result = "ok"
	default:
		result = resp.Reason
	}
	e.metrics.RecordMatch(windowLen, result, time.Since(start))

	return resp, working, err
}

func (e *Engine) match(ctx context.Context, req *model.MatchRequest) (*model.MatchResponse, model.Series, error) {
	if err := e.normalize(ctx, req); err != nil {
		return nil, model.Series{}, err
	}

	snap, err := e.acquire(ctx, req.Symbol, req.Timeframe)
	if err != nil {
		return nil, model.Series{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, model.Series{}, err
	}

	w := req.WindowLen
	h := req.ForwardHorizonDays
	mode := req.Mode()
	full := snap.Series

	// Leakage guard: the working series never extends past asOf.
	working := full
	cut := full.Len() - 1
	if req.AsOf != nil {
		cut = AsOfCut(full.Timestamps, *req.AsOf)
		working = full.Truncate(cut + 1)
	}

	resp := &model.MatchResponse{
		Symbol: req.Symbol,
		Pattern: model.Pattern{
			WindowLen:      w,
			Timeframe:      req.Timeframe,
			Representation: mode,
		},
		Matches:      []model.Match{},
		ForwardStats: model.ForwardStats{HorizonDays: h},
		Safety:       safety(),
		Generation:   snap.Generation,
		Fingerprint:  snap.Fingerprint,
	}
	switch {
	case req.AsOf != nil:
		resp.AsOf = *req.AsOf
	case working.Len() > 0:
		resp.AsOf = working.Timestamps[working.Len()-1]
	}

	n := working.Len()
	if n < window.MinSeriesLen(w, h) {
		resp.Reason = model.ReasonInsufficientData
		e.log.Debug().
			Str("symbol", req.Symbol).
			Int("points", n).
			Int("required", window.MinSeriesLen(w, h)).
			Msg("insufficient data for match")
		return resp, working, nil
	}

	currentEnd := n - 1
	currentStart := currentEnd - w
	resp.Pattern.StartTimestamp = working.Timestamps[currentStart]
	resp.Pattern.EndTimestamp = working.Timestamps[currentEnd]

	current, err := feature.BuildVector(working.Closes[currentStart:currentEnd+1], mode)
	if err != nil {
		return nil, model.Series{}, &Error{Kind: KindValidation, Op: "engine.match", Field: "similarityMode", Err: err}
	}

	lastEnd := currentEnd - e.MinGap(h)
	if req.AsOf != nil && cut-h < lastEnd {
		lastEnd = cut - h
	}

	candidates := e.scan(snap, working, current, mode, w, lastEnd)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].end < candidates[j].end
	})
	if len(candidates) > req.TopK {
		candidates = candidates[:req.TopK]
	}

	if len(candidates) == 0 {
		resp.Reason = model.ReasonNoCandidates
		return resp, working, nil
	}

	resp.Matches = e.rank(candidates, full, w, resp.AsOf)

	// Outcomes read the full series; every candidate ends at least h bars before cut.
	outcomes := make([]model.Outcome, 0, len(resp.Matches))
	for i := range resp.Matches {
		m := &resp.Matches[i]
		if o, ok := outcome.Forward(full.Closes, m.EndIndex, h); ok {
			m.Outcome = &o
			outcomes = append(outcomes, o)
		}
	}
	resp.ForwardStats, resp.Confidence = e.outcomes.Aggregate(outcomes, h)
	resp.OK = true

	if req.IncludeSeriesUsed {
		resp.SeriesUsed = make([]model.SeriesPoint, 0, w+1)
		for i := currentStart; i <= currentEnd; i++ {
			resp.SeriesUsed = append(resp.SeriesUsed, model.SeriesPoint{
				Timestamp: working.Timestamps[i],
				Close:     working.Closes[i],
			})
		}
	}

	e.persist(req, resp, full, currentStart, currentEnd)
	return resp, working, nil
}

// AsOfCut returns the index of the latest timestamp <= asOf, or -1 if none.
func AsOfCut(timestamps []time.Time, asOf time.Time) int {
	return sort.Search(len(timestamps), func(i int) bool { return timestamps[i].After(asOf) }) - 1
}

// scan scores every admissible candidate window ending in [w, lastEnd]
func (e *Engine) scan(snap *snapshot, working model.Series, current feature.Vector, mode model.Representation, w, lastEnd int) []candidate {
	if lastEnd < w {
		return nil
	}

	indexed := snap.Index.Has(mode, w)
	candidates := make([]candidate, 0, lastEnd-w+1)
	for end := w; end <= lastEnd; end++ {
		if e.cfg.MinQuality > 0 && working.MinQuality(end-w, end) < e.cfg.MinQuality {
			continue
		}

		var v feature.Vector
		ok := false
		if indexed {
			v, ok = snap.Index.Vector(mode, w, end)
		}
		if !ok {
			built, err := feature.BuildVector(working.Closes[end-w:end+1], mode)
			if err != nil {
				continue
			}
			v = built
		}

		candidates = append(candidates, candidate{end: end, similarity: feature.Cosine(current, v)})
	}
	return candidates
}

// rank turns the top-K candidates into matches, applying age decay when enabled.
// Ages are measured from ref so identical queries on one snapshot rank identically.
func (e *Engine) rank(candidates []candidate, full model.Series, w int, ref time.Time) []model.Match {
	rc := make([]rerank.Candidate, len(candidates))
	for i, c := range candidates {
		rc[i] = rerank.Candidate{
			Key:        strconv.Itoa(c.end),
			Similarity: c.similarity,
			TEnd:       full.Timestamps[c.end],
		}
	}

	ranked := e.reranker.Rerank(rc, ref)
	matches := make([]model.Match, len(ranked))
	for i, r := range ranked {
		end, _ := strconv.Atoi(r.Key)
		matches[i] = model.Match{
			StartIndex:     end - w,
			EndIndex:       end,
			StartTimestamp: full.Timestamps[end-w],
			EndTimestamp:   full.Timestamps[end],
			Similarity:     r.Similarity,
			AgeWeight:      r.TimeWeight,
			Score:          r.FinalScore,
			Rank:           i + 1,
		}
	}
	return matches
}

// persist hands the ML feature record of a successful match to the sink.
// Failures are logged and never reach the caller.
func (e *Engine) persist(req *model.MatchRequest, resp *model.MatchResponse, full model.Series, start, end int) {
	if e.sink == nil {
		return
	}

	closes := full.Closes[start : end+1]
	rec := model.FeatureRecord{
		Meta: model.NewWindowMeta(
			req.Symbol, req.Timeframe, full.Timestamps[end],
			req.WindowLen, req.ForwardHorizonDays, model.FeatureVersion,
			string(resp.Pattern.Representation), req.AsOf,
		),
		Features: feature.ExtractWindowFeatures(closes),
		Prediction: model.Prediction{
			ReturnP10:      resp.ForwardStats.Return.P10,
			ReturnP50:      resp.ForwardStats.Return.P50,
			ReturnP90:      resp.ForwardStats.Return.P90,
			ReturnMean:     resp.ForwardStats.Return.Mean,
			DrawdownP50:    resp.ForwardStats.MaxDrawdown.P50,
			SampleSize:     resp.Confidence.SampleSize,
			StabilityScore: resp.Confidence.StabilityScore,
		},
	}

	// Under asOf the realized outcome may already be known.
	if o, ok := outcome.Forward(full.Closes, end, req.ForwardHorizonDays); ok {
		rec.Label = &model.Label{Return: o.Return, MaxDrawdown: o.MaxDrawdown}
	}

	if err := e.sink.Submit(rec); err != nil {
		perr := &Error{Kind: KindPersistence, Op: "engine.persist", Err: err}
		e.log.Warn().
			Err(perr).
			Str("symbol", req.Symbol).
			Str("window_id", rec.Meta.WindowID).
			Msg("feature record not persisted")
	}
}
