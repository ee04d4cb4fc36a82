// Package events is the typed observability channel for pipeline runs. Each
// run owns its own Bus, so concurrent runs never share event history.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type identifies the kind of a pipeline event.
type Type string

// Pipeline lifecycle and stage event types. Payload shapes are
// additive-compatible: subscribers must tolerate new optional fields.
const (
	PipelineStarted  Type = "pipeline_started"
	PipelineComplete Type = "pipeline_complete"
	PipelineFailed   Type = "pipeline_failed"

	EnrichmentStarted      Type = "enrichment_started"
	EnrichmentItemStarted  Type = "enrichment_item_started"
	EnrichmentItemComplete Type = "enrichment_item_complete"
	EnrichmentItemFailed   Type = "enrichment_item_failed"
	EnrichmentComplete     Type = "enrichment_complete"

	ClusteringStarted  Type = "clustering_started"
	ClusterCreated     Type = "cluster_created"
	ClusteringComplete Type = "clustering_complete"

	InsightsStarted   Type = "insights_started"
	InsightProcessing Type = "insight_processing"
	InsightCreated    Type = "insight_created"
	InsightFallback   Type = "insight_fallback"
	InsightsComplete  Type = "insights_complete"

	Warning Type = "warning"
)

// Stage names used on events.
const (
	StagePipeline   = "pipeline"
	StageEnrichment = "enrichment"
	StageClustering = "clustering"
	StageInsights   = "insights"
)

// Event is one timestamped record of pipeline progress. Append-only.
type Event struct {
	PipelineID string         `json:"pipeline_id"`
	Type       Type           `json:"type"`
	Stage      string         `json:"stage"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Listener receives completed events.
type Listener func(Event)

// Bus is an in-memory publish/subscribe channel for one pipeline run. Emit
// stamps events, retains them in history, and notifies subscribers
// synchronously; a panicking subscriber is logged and never affects the
// emitter or other subscribers.
type Bus struct {
	pipelineID string
	logger     *zap.Logger

	mu      sync.Mutex
	history []Event
	subs    map[int]Listener
	nextSub int
}

// NewBus creates a Bus for the given pipeline run.
func NewBus(pipelineID string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		pipelineID: pipelineID,
		logger:     logger,
		subs:       make(map[int]Listener),
	}
}

// PipelineID returns the run id this bus is stamped with.
func (b *Bus) PipelineID() string {
	return b.pipelineID
}

// Emit completes the event (pipeline id and timestamp if absent), appends it
// to history, and delivers it to all current subscribers in subscription
// order. Events from a single emitter reach every subscriber in emission
// order; delivery is synchronous.
func (b *Bus) Emit(e Event) {
	if e.PipelineID == "" {
		e.PipelineID = b.pipelineID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	listeners := make([]Listener, 0, len(b.subs))
	for id := 0; id < b.nextSub; id++ {
		if fn, ok := b.subs[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		b.deliver(fn, e)
	}
}

func (b *Bus) deliver(fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("pipeline_id", e.PipelineID),
				zap.String("event_type", string(e.Type)),
				zap.Any("panic", r))
		}
	}()
	fn(e)
}

// Subscribe registers a listener and returns its unsubscribe func.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// History returns a copy of all events emitted so far.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryByType returns emitted events matching the given type.
func (b *Bus) HistoryByType(t Type) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.history {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Clear discards the retained history.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}
