// Package feedback defines the domain model shared by the pipeline stages:
// raw feedback items, the product-area taxonomy, enriched items, clusters,
// and generated insights. Values flow strictly forward through the pipeline;
// each stage produces a new collection and never mutates its input.
package feedback

import "time"

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Urgency levels.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Pain-point severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Metadata is optional user context attached to a feedback item.
type Metadata struct {
	PlanTier   string `json:"plan_tier,omitempty"`
	Segment    string `json:"segment,omitempty"`
	TeamSize   int    `json:"team_size,omitempty"`
	UsageLevel string `json:"usage_level,omitempty"`
}

// Item is a raw feedback record. Immutable once ingested.
type Item struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	URL       *string   `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Area is one entry in the product-area taxonomy.
type Area struct {
	ID          string   `json:"id"`
	ProductID   string   `json:"product_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// AreaLink ties an enriched item to a taxonomy area with a confidence.
type AreaLink struct {
	AreaID     string  `json:"area_id"`
	AreaName   string  `json:"area_name"`
	Confidence float64 `json:"confidence"`
}

// Sentiment is the sentiment judgment for one item.
// Score is in [-1, 1], Confidence in [0, 1]; both are clamped on creation.
type Sentiment struct {
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Enriched is a feedback item plus the classification produced by the
// enrichment stage. Created once per item, never mutated afterward.
type Enriched struct {
	Item       Item       `json:"item"`
	Areas      []AreaLink `json:"areas"`
	Sentiment  Sentiment  `json:"sentiment"`
	Features   []string   `json:"features,omitempty"`
	Urgency    string     `json:"urgency"`
	Categories []string   `json:"categories,omitempty"`
}

// Cluster is a named group of enriched items sharing a theme.
// MemberIDs partition the enriched batch: every input id appears in exactly
// one cluster.
type Cluster struct {
	ID                string         `json:"id"`
	Theme             string         `json:"theme"`
	Description       string         `json:"description,omitempty"`
	MemberIDs         []string       `json:"member_ids"`
	Size              int            `json:"size"`
	DominantSentiment string         `json:"dominant_sentiment"`
	Sentiments        map[string]int `json:"sentiments"`
	Urgencies         map[string]int `json:"urgencies"`
	Areas             []string       `json:"areas,omitempty"`
	Segments          []string       `json:"segments,omitempty"`
	Keywords          []string       `json:"keywords,omitempty"`
	Confidence        float64        `json:"confidence"`
}

// PainPoint describes the core problem behind an insight.
type PainPoint struct {
	Description  string `json:"description"`
	Severity     string `json:"severity"`
	JourneyStage string `json:"journey_stage,omitempty"`
	Frequency    int    `json:"frequency"`
}

// BusinessImpact is a qualitative impact triple.
type BusinessImpact struct {
	Revenue      string `json:"revenue,omitempty"`
	Churn        string `json:"churn,omitempty"`
	Satisfaction string `json:"satisfaction,omitempty"`
}

// QuantifiedImpact holds optional numeric impact estimates.
type QuantifiedImpact struct {
	RevenueAtRisk  string `json:"revenue_at_risk,omitempty"`
	ChurnRatePct   string `json:"churn_rate_pct,omitempty"`
	SupportTickets string `json:"support_tickets,omitempty"`
}

// Impact is the business-impact assessment of an insight.
type Impact struct {
	UsersAffected int               `json:"users_affected"`
	Segments      []string          `json:"segments,omitempty"`
	Business      BusinessImpact    `json:"business"`
	Estimates     *QuantifiedImpact `json:"estimates,omitempty"`
}

// Action is one recommended action in an insight.
type Action struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Category       string   `json:"category,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Effort         string   `json:"effort,omitempty"`
	Timeline       string   `json:"timeline,omitempty"`
	SuccessMetrics []string `json:"success_metrics,omitempty"`
}

// Excerpt is one supporting-feedback reference in an evidence chain.
type Excerpt struct {
	ItemID    string  `json:"item_id"`
	Relevance float64 `json:"relevance"`
	Quote     string  `json:"quote"`
}

// EvidenceChain links an insight back to the cluster and items behind it.
type EvidenceChain struct {
	ClusterSummary string    `json:"cluster_summary"`
	Supporting     []Excerpt `json:"supporting"`
	Derivation     string    `json:"derivation,omitempty"`
}

// Narratives holds one rendering of an insight per stakeholder audience.
type Narratives struct {
	Executive       string `json:"executive"`
	Product         string `json:"product"`
	Engineering     string `json:"engineering"`
	CustomerSuccess string `json:"customer_success"`
}

// Insight is a synthesized, recommendation-bearing analysis of one cluster.
type Insight struct {
	ID         string        `json:"id"`
	ClusterID  string        `json:"cluster_id"`
	Title      string        `json:"title"`
	Summary    string        `json:"summary"`
	Analysis   string        `json:"analysis,omitempty"`
	PainPoint  PainPoint     `json:"pain_point"`
	Impact     Impact        `json:"impact"`
	Actions    []Action      `json:"actions,omitempty"`
	Evidence   EvidenceChain `json:"evidence"`
	Confidence float64       `json:"confidence"`
	Narratives Narratives    `json:"narratives"`
	Fallback   bool          `json:"fallback,omitempty"`
}

// ClampUnit clamps v into [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampSigned clamps v into [-1, 1].
func ClampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// ValidSentiment reports whether label is a known sentiment label.
func ValidSentiment(label string) bool {
	return label == SentimentPositive || label == SentimentNegative || label == SentimentNeutral
}

// ValidUrgency reports whether level is a known urgency level.
func ValidUrgency(level string) bool {
	return level == UrgencyLow || level == UrgencyMedium || level == UrgencyHigh
}

// ValidSeverity reports whether s is a known pain-point severity.
func ValidSeverity(s string) bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh || s == SeverityCritical
}
