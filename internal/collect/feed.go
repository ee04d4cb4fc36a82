package collect

import (
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

const maxPerFeed = 50

// FeedEntry is one feedback-bearing entry parsed from a feed.
type FeedEntry struct {
	URL       string
	Text      string
	Author    string
	Channel   string
	Published time.Time
}

// FeedConfig is a single feed source. Channel labels where the feedback
// came from (forum, reviews, support) and defaults to the feed name.
type FeedConfig struct {
	URL     string
	Name    string
	Channel string
}

// FeedParser parses RSS/Atom feeds into feedback entries.
type FeedParser struct {
	feeds  []FeedConfig
	logger *zap.Logger
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser(feeds []FeedConfig, logger *zap.Logger) *FeedParser {
	return &FeedParser{feeds: feeds, logger: logger}
}

// ParseAll parses all configured feeds and returns entries within daysBack.
func (fp *FeedParser) ParseAll(daysBack int) []FeedEntry {
	cutoff := time.Now().AddDate(0, 0, -daysBack)
	var all []FeedEntry

	parser := gofeed.NewParser()
	for _, fc := range fp.feeds {
		channel := fc.Channel
		if channel == "" {
			channel = fc.Name
		}
		if channel == "" {
			channel = extractSourceName(fc.URL)
		}

		entries, err := parseFeed(parser, fc.URL, channel, cutoff)
		if err != nil {
			fp.logger.Warn("failed to parse feed", zap.String("url", fc.URL), zap.Error(err))
			continue
		}
		all = append(all, entries...)
		fp.logger.Info("parsed feed",
			zap.String("channel", channel),
			zap.Int("entries", len(entries)),
			zap.Int("days_back", daysBack))
	}

	return all
}

func parseFeed(parser *gofeed.Parser, feedURL, channel string, cutoff time.Time) ([]FeedEntry, error) {
	feed, err := parser.ParseURL(feedURL)
	if err != nil {
		return nil, err
	}

	var entries []FeedEntry
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}

		entry := parseItem(item, channel)
		if entry == nil {
			continue
		}
		if entry.Published.IsZero() || !entry.Published.Before(cutoff) {
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}

func parseItem(item *gofeed.Item, channel string) *FeedEntry {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)

	var body string
	if item.Content != "" {
		body = stripHTML(item.Content)
	} else if item.Description != "" {
		body = stripHTML(item.Description)
	}

	// The title often carries the complaint itself ("Export broken again"),
	// so keep it as the lead sentence of the feedback text.
	text := title
	if body != "" {
		if text != "" {
			text += ". " + body
		} else {
			text = body
		}
	}
	if text == "" {
		return nil
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	var author string
	if item.Author != nil {
		author = strings.TrimSpace(item.Author.Name)
	}

	return &FeedEntry{
		URL:       itemURL,
		Text:      text,
		Author:    author,
		Channel:   channel,
		Published: published,
	}
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "forum.", "community.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	if host == "" {
		return feedURL
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
