// Package pipeline sequences the three analysis stages over a batch of raw
// feedback: enrichment, clustering, insight generation. Each run owns its own
// event bus and state, so concurrent runs are independent.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightpipe/insightpipe/internal/cluster"
	"github.com/insightpipe/insightpipe/internal/enrich"
	"github.com/insightpipe/insightpipe/internal/events"
	"github.com/insightpipe/insightpipe/internal/feedback"
	"github.com/insightpipe/insightpipe/internal/insight"
	"github.com/insightpipe/insightpipe/internal/llm"
)

// State is the orchestrator's position in the run lifecycle. Transitions are
// strictly sequential; a run never re-enters a prior state, and Failed is
// terminal from any non-idle state.
type State string

const (
	StateIdle               State = "idle"
	StateEnriching          State = "enriching"
	StateClustering         State = "clustering"
	StateGeneratingInsights State = "generating_insights"
	StateComplete           State = "complete"
	StateFailed             State = "failed"
)

// TaxonomySource provides the candidate product areas for a product.
type TaxonomySource interface {
	ListAreasForProduct(productID string) ([]feedback.Area, error)
}

// EventSink optionally persists pipeline events as they are emitted.
// A sink failure never affects pipeline execution.
type EventSink interface {
	SaveEvent(e events.Event) error
}

// Summary is the final accounting of a completed run.
type Summary struct {
	FeedbackCount    int   `json:"feedback_count"`
	EnrichedCount    int   `json:"enriched_count"`
	ClusterCount     int   `json:"cluster_count"`
	InsightCount     int   `json:"insight_count"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// Outcome is everything a completed run produced.
type Outcome struct {
	PipelineID string
	Enriched   []feedback.Enriched
	Clusters   []feedback.Cluster
	Insights   []feedback.Insight
	Summary    Summary
}

// Options configures every stage of a run.
type Options struct {
	Concurrency     int
	PermissiveAreas bool
	MaxClusters     int
	MinClusterSize  int
	MinConfidence   float64
}

// Orchestrator builds runs. It holds the long-lived collaborators; per-run
// state lives on Run.
type Orchestrator struct {
	provider llm.Provider
	taxonomy TaxonomySource
	sink     EventSink
	logger   *zap.Logger
	opts     Options
}

// New creates an Orchestrator. sink may be nil.
func New(provider llm.Provider, taxonomy TaxonomySource, sink EventSink, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{provider: provider, taxonomy: taxonomy, sink: sink, logger: logger, opts: opts}
}

// Run is one pipeline execution with its own id, event bus, and state.
type Run struct {
	id  string
	o   *Orchestrator
	bus *events.Bus

	mu    sync.Mutex
	state State
}

// NewRun creates an idle run. Subscribe to its Bus before calling Execute to
// observe progress in real time.
func (o *Orchestrator) NewRun() *Run {
	id := uuid.NewString()
	bus := events.NewBus(id, o.logger)
	r := &Run{id: id, o: o, bus: bus, state: StateIdle}
	if o.sink != nil {
		bus.Subscribe(func(e events.Event) {
			if err := o.sink.SaveEvent(e); err != nil {
				o.logger.Warn("event sink write failed", zap.String("pipeline_id", id), zap.Error(err))
			}
		})
	}
	return r
}

// ID returns the pipeline-run id.
func (r *Run) ID() string { return r.id }

// Bus returns the run's event bus.
func (r *Run) Bus() *events.Bus { return r.bus }

// State returns the run's current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Execute runs the full pipeline over items. It can be called once per Run;
// there is no automatic retry of a failed run.
func (r *Run) Execute(ctx context.Context, productID string, items []feedback.Item) (*Outcome, error) {
	if r.State() != StateIdle {
		return nil, fmt.Errorf("pipeline run %s already executed (state %s)", r.id, r.State())
	}

	o := r.o
	started := time.Now()

	// Taxonomy is read before the run enters Enriching; a failure here means
	// the run never started.
	areas, err := o.taxonomy.ListAreasForProduct(productID)
	if err != nil {
		return nil, fmt.Errorf("listing areas for %s: %w", productID, err)
	}

	r.setState(StateEnriching)
	r.bus.Emit(events.Event{
		Type:  events.PipelineStarted,
		Stage: events.StagePipeline,
		Payload: map[string]any{
			"product_id":     productID,
			"feedback_count": len(items),
		},
	})

	enricher := enrich.New(o.provider, r.bus, o.logger, enrich.Options{
		Concurrency: o.opts.Concurrency,
		Permissive:  o.opts.PermissiveAreas,
	})
	enriched, _, err := enricher.EnrichAll(ctx, items, areas)
	if err != nil {
		return nil, r.fail(events.StageEnrichment, started, err)
	}

	r.setState(StateClustering)
	clusterer := cluster.New(o.provider, r.bus, o.logger, cluster.Options{
		MaxClusters:    o.opts.MaxClusters,
		MinClusterSize: o.opts.MinClusterSize,
		MinConfidence:  o.opts.MinConfidence,
	})
	clusters, err := clusterer.ClusterAll(ctx, enriched)
	if err != nil {
		return nil, r.fail(events.StageClustering, started, err)
	}

	r.setState(StateGeneratingInsights)
	generator := insight.New(o.provider, r.bus, o.logger, insight.Options{
		Concurrency: o.opts.Concurrency,
	})
	insights, _, err := generator.GenerateAll(ctx, clusters, enriched)
	if err != nil {
		return nil, r.fail(events.StageInsights, started, err)
	}

	summary := Summary{
		FeedbackCount:    len(items),
		EnrichedCount:    len(enriched),
		ClusterCount:     len(clusters),
		InsightCount:     len(insights),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}

	r.setState(StateComplete)
	r.bus.Emit(events.Event{
		Type:  events.PipelineComplete,
		Stage: events.StagePipeline,
		Payload: map[string]any{
			"feedback_count":     summary.FeedbackCount,
			"enriched_count":     summary.EnrichedCount,
			"cluster_count":      summary.ClusterCount,
			"insight_count":      summary.InsightCount,
			"processing_time_ms": summary.ProcessingTimeMs,
		},
	})

	o.logger.Info("pipeline complete",
		zap.String("pipeline_id", r.id),
		zap.Int("feedback", summary.FeedbackCount),
		zap.Int("insights", summary.InsightCount),
		zap.Int64("ms", summary.ProcessingTimeMs))

	return &Outcome{
		PipelineID: r.id,
		Enriched:   enriched,
		Clusters:   clusters,
		Insights:   insights,
		Summary:    summary,
	}, nil
}

func (r *Run) fail(stage string, started time.Time, err error) error {
	r.setState(StateFailed)
	r.bus.Emit(events.Event{
		Type:  events.PipelineFailed,
		Stage: events.StagePipeline,
		Payload: map[string]any{
			"stage":              stage,
			"error":              err.Error(),
			"processing_time_ms": time.Since(started).Milliseconds(),
		},
	})
	r.o.logger.Error("pipeline failed",
		zap.String("pipeline_id", r.id),
		zap.String("stage", stage),
		zap.Error(err))
	return fmt.Errorf("%s stage: %w", stage, err)
}
