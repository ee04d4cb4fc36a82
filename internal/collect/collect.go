package collect

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightpipe/insightpipe/internal/config"
	"github.com/insightpipe/insightpipe/internal/database"
	"github.com/insightpipe/insightpipe/internal/feedback"
)

// Result holds the results of a collection run.
type Result struct {
	TotalFound int
	NewItems   int
	Duplicates int
	Channels   map[string]int
}

// Collector pulls feedback from configured RSS/Atom feeds into the database.
// Community forums, public changelogs and review sites all expose feeds, so
// this covers the bulk of passive feedback sources.
type Collector struct {
	db         *database.DB
	feedParser *FeedParser
	productID  string
	logger     *zap.Logger
}

// NewCollector creates a collector for the configured sources.
func NewCollector(cfg *config.Config, db *database.DB, logger *zap.Logger) *Collector {
	c := &Collector{
		db:        db,
		productID: cfg.Product.ID,
		logger:    logger,
	}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name, Channel: f.Channel}
		}
		c.feedParser = NewFeedParser(feeds, logger)
	}

	return c
}

// Collect fetches all configured feeds and stores new entries as feedback
// items. Entries whose URL is already stored count as duplicates.
func (c *Collector) Collect(daysBack int) (*Result, error) {
	r := &Result{Channels: make(map[string]int)}

	if c.feedParser == nil {
		c.logger.Warn("no feed sources configured")
		return r, nil
	}

	entries := c.feedParser.ParseAll(daysBack)
	r.TotalFound = len(entries)

	for _, entry := range entries {
		url := entry.URL
		item := feedback.Item{
			ID:        uuid.NewString(),
			ProductID: c.productID,
			Text:      entry.Text,
			AuthorID:  entry.Author,
			Channel:   entry.Channel,
			URL:       &url,
			CreatedAt: entry.Published,
		}

		inserted, err := c.db.InsertFeedback(item)
		if err != nil {
			return r, err
		}
		if inserted {
			r.NewItems++
			r.Channels[entry.Channel]++
		} else {
			r.Duplicates++
		}
	}

	c.logger.Info("collection complete",
		zap.Int("found", r.TotalFound),
		zap.Int("new", r.NewItems),
		zap.Int("duplicates", r.Duplicates))
	return r, nil
}
