package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
	"github.com/TobiSchelling/pulsemap/internal/config"
	"github.com/TobiSchelling/pulsemap/internal/database"
	"github.com/TobiSchelling/pulsemap/internal/insight"
	"github.com/TobiSchelling/pulsemap/internal/llm"
	"github.com/TobiSchelling/pulsemap/internal/signal"
	"github.com/TobiSchelling/pulsemap/internal/temporal"
)

// signalWindow bounds the rows a map build reads.
const signalWindow = 30 * 24 * time.Hour

// ErrUserNotFound is returned for operations on an unknown user.
var ErrUserNotFound = errors.New("user not found")

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	UserID string
	Steps  []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline orchestrates extraction, insight refresh and map building per user.
type Pipeline struct {
	db        *database.DB
	logger    *zap.Logger
	provider  llm.Provider
	extractor *signal.Extractor
	engine    *insight.Engine
	reflector *insight.Reflector
	builder   *behaviormap.Builder
	maxQuests int
	now       func() time.Time
	locks     userLocks

	providerSet bool
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithProvider replaces the configured LLM provider. nil disables it.
func WithProvider(p llm.Provider) Option {
	return func(pl *Pipeline) {
		pl.provider = p
		pl.providerSet = true
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) {
		pl.now = now
	}
}

// New creates a pipeline from configuration. Unless WithProvider is given,
// the LLM provider is resolved from cfg.LLM.
func New(cfg *config.Config, db *database.DB, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	eng := cfg.Engine
	loc, err := eng.Location()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		db:        db,
		logger:    logger,
		maxQuests: eng.MaxQuests,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if !p.providerSet {
		p.provider = llm.CreateProvider(llm.Options{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			OllamaURL:   cfg.LLM.OllamaURL,
			OpenAIModel: cfg.LLM.OpenAIModel,
			OpenAIURL:   cfg.LLM.OpenAIURL,
			APIKeyEnv:   cfg.LLM.APIKeyEnv,
			Timeout:     cfg.LLM.Timeout(),
		}, logger)
	}

	weights := signal.DefaultSourceWeights()
	if len(eng.SourceWeights) > 0 {
		table := make(map[signal.Source]float64, len(eng.SourceWeights))
		for src, w := range eng.SourceWeights {
			table[signal.Source(src)] = w
		}
		weights = signal.NewSourceWeights(table, eng.DefaultSourceWeight)
	}

	taxonomy := insight.DefaultTaxonomy()
	if len(eng.ProductiveCategories) > 0 {
		taxonomy.Productive = eng.ProductiveCategories
	}
	if len(eng.EntertainmentCategories) > 0 {
		taxonomy.Entertainment = eng.EntertainmentCategories
	}

	agg := temporal.New(temporal.Options{
		DecayFactor:     eng.DecayFactorDays,
		ConfidenceFloor: eng.ConfidenceFloor,
		HighThreshold:   eng.HighDayThreshold,
		SourceWeights:   weights,
		Location:        loc,
	})

	p.extractor = signal.NewExtractor(db, p.provider, signal.NewNormalizer(nil), logger)
	p.engine = insight.NewEngine(insight.NewScorer(taxonomy, eng.ProductivityDivisor), loc)
	p.reflector = insight.NewReflector(p.provider, logger)
	p.builder = behaviormap.NewBuilder(behaviormap.Options{
		Aggregator: agg,
		MaxEdges:   eng.MaxEdges,
		MaxQuests:  eng.MaxQuests,
	})
	if p.maxQuests <= 0 {
		p.maxQuests = behaviormap.DefaultMaxQuests
	}
	return p, nil
}

// HasProvider reports whether an LLM is available for extraction and reflections.
func (p *Pipeline) HasProvider() bool {
	return p.provider != nil
}

// Run executes extract, insights and map for one user.
func (p *Pipeline) Run(ctx context.Context, userID string) *Result {
	r := &Result{UserID: userID}

	if _, err := p.user(userID); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Extract", Err: err})
		return r
	}

	r.Steps = append(r.Steps, p.runExtract(ctx, userID))

	step := p.runInsights(ctx, userID)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	r.Steps = append(r.Steps, p.runMap(ctx, userID))
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(userID string) *Result {
	r := &Result{UserID: userID}
	if _, err := p.user(userID); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Extract", Err: err})
		return r
	}
	now := p.now()

	pending, _ := p.db.CountPendingMessages(userID)
	extract := fmt.Sprintf("[dry-run] %d messages need signal extraction", pending)
	if p.provider == nil {
		extract += " (no LLM provider: they would be marked with zero signals)"
	}
	r.Steps = append(r.Steps, StepResult{Name: "Extract", Summary: extract})

	events, _ := p.db.GetEventsSince(userID, now.Add(-insight.Window))
	r.Steps = append(r.Steps, StepResult{
		Name:    "Insights",
		Summary: fmt.Sprintf("[dry-run] %d events in the last 7 days would be scored", len(events)),
	})

	checkIns, _ := p.db.GetCheckInsSince(userID, now.Add(-signalWindow))
	signals, _ := p.db.GetSignalsSince(userID, now.Add(-signalWindow))
	prev, _ := p.db.GetSnapshot(userID)
	verb := "rebuild"
	if prev.IsEmpty() {
		verb = "build a first"
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Map",
		Summary: fmt.Sprintf("[dry-run] Would %s map from %d check-ins and %d signals", verb, len(checkIns), len(signals)),
	})
	return r
}

func (p *Pipeline) runExtract(ctx context.Context, userID string) StepResult {
	p.logger.Info("step 1/3: extracting signals", zap.String("user_id", userID))
	res := p.extractor.ExtractPending(ctx, userID)
	return StepResult{
		Name:    "Extract",
		Summary: fmt.Sprintf("Extracted %d signals from %d messages (%d failed)", res.Signals, res.Messages, res.Errors),
	}
}

func (p *Pipeline) runInsights(ctx context.Context, userID string) StepResult {
	p.logger.Info("step 2/3: refreshing insights", zap.String("user_id", userID))
	state, err := p.RefreshInsights(ctx, userID)
	if err != nil {
		return StepResult{Name: "Insights", Err: err}
	}
	return StepResult{
		Name: "Insights",
		Summary: fmt.Sprintf("Productivity %.1f, %s trend, top interest %s",
			state.ProductivityScore, state.CurrentTrend, state.TopInterest),
	}
}

func (p *Pipeline) runMap(ctx context.Context, userID string) StepResult {
	p.logger.Info("step 3/3: building behavior map", zap.String("user_id", userID))
	payload, err := p.BuildMap(ctx, userID)
	if err != nil {
		return StepResult{Name: "Map", Err: err}
	}
	return StepResult{
		Name: "Map",
		Summary: fmt.Sprintf("%d nodes, %d edges (%s)",
			len(payload.Nodes), len(payload.Edges), payload.Update.ChangeType),
	}
}

// ExtractPending runs signal extraction for userID, or for every user when
// userID is empty.
func (p *Pipeline) ExtractPending(ctx context.Context, userID string) *signal.ExtractResult {
	return p.extractor.ExtractPending(ctx, userID)
}

// RefreshInsights recomputes and stores the full insight state of a user.
func (p *Pipeline) RefreshInsights(ctx context.Context, userID string) (*insight.State, error) {
	now := p.now()
	if err := temporal.CheckClock(now); err != nil {
		return nil, err
	}
	if _, err := p.user(userID); err != nil {
		return nil, err
	}

	events, err := p.db.GetEventsSince(userID, now.Add(-insight.Window))
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	state, err := p.engine.Compute(userID, events, now)
	if err != nil {
		return nil, err
	}

	// The map gives the reflection its context; a failure only costs context.
	var payload *behaviormap.Payload
	if in, _, _, err := p.loadMapInput(ctx, userID, now); err == nil {
		if built, err := p.builder.Build(in); err == nil {
			payload = &built
		} else {
			p.logger.Warn("map context unavailable for reflection", zap.String("user_id", userID), zap.Error(err))
		}
	}

	state.LastReflection = p.reflector.Reflect(ctx, state, payload)
	state.UpdatedAt = now
	if err := p.db.UpsertInsightState(state); err != nil {
		return nil, err
	}
	return &state, nil
}

// BuildMap builds the behavior map of a user, compares it with the previous
// one, and persists the new summary. Builds for the same user are serialized.
func (p *Pipeline) BuildMap(ctx context.Context, userID string) (*behaviormap.Payload, error) {
	unlock := p.locks.lock(userID)
	defer unlock()

	now := p.now()
	if err := temporal.CheckClock(now); err != nil {
		return nil, err
	}

	in, prev, state, err := p.loadMapInput(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	payload, err := p.builder.Build(in)
	if err != nil {
		return nil, err
	}
	if state != nil {
		payload.MergeReflection(state.LastReflection)
	}

	next := behaviormap.Summarize(payload)
	update := behaviormap.Detect(prev, next)
	payload.ApplyUpdate(update)

	if err := p.db.SaveSnapshot(userID, next, update.ChangeType, now); err != nil {
		return nil, err
	}
	p.logger.Debug("map built",
		zap.String("user_id", userID),
		zap.Int("nodes", len(payload.Nodes)),
		zap.Int("edges", len(payload.Edges)),
		zap.String("change", string(update.ChangeType)))
	return &payload, nil
}

// loadMapInput reads everything a build needs concurrently.
func (p *Pipeline) loadMapInput(ctx context.Context, userID string, now time.Time) (behaviormap.Input, behaviormap.Snapshot, *insight.State, error) {
	in := behaviormap.Input{Now: now}
	var prev behaviormap.Snapshot
	var state *insight.State

	user, err := p.user(userID)
	if err != nil {
		return in, prev, nil, err
	}
	in.User = *user

	since := now.Add(-signalWindow)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := p.db.GetCheckInsSince(userID, since)
		if err != nil {
			return fmt.Errorf("loading check-ins: %w", err)
		}
		in.CheckIns = rows
		return nil
	})
	g.Go(func() error {
		rows, err := p.db.GetRecentQuests(userID, p.maxQuests)
		if err != nil {
			return fmt.Errorf("loading quests: %w", err)
		}
		in.Quests = rows
		return nil
	})
	g.Go(func() error {
		rows, err := p.db.GetSignalsSince(userID, since)
		if err != nil {
			return fmt.Errorf("loading signals: %w", err)
		}
		in.Signals = rows
		return nil
	})
	g.Go(func() error {
		snap, err := p.db.GetSnapshot(userID)
		if err != nil {
			return fmt.Errorf("loading snapshot: %w", err)
		}
		prev = snap
		return nil
	})
	g.Go(func() error {
		s, err := p.db.GetInsightState(userID)
		if err != nil {
			return fmt.Errorf("loading insight state: %w", err)
		}
		state = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return in, prev, nil, err
	}
	return in, prev, state, nil
}

func (p *Pipeline) user(userID string) (*behaviormap.User, error) {
	u, err := p.db.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return u, nil
}

// userLocks hands out one mutex per user.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	m, ok := l.m[userID]
	if !ok {
		m = &sync.Mutex{}
		l.m[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
