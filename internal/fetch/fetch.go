package fetch

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/insightpipe/insightpipe/internal/database"
)

// Feed summaries below this length are treated as truncated.
const truncatedTextLen = 200

// Result holds the results of a content fetch run.
type Result struct {
	Candidates int
	Expanded   int
	Failed     int
}

// ContentFetcher expands truncated feed-sourced feedback by fetching the
// source page and extracting its readable text.
type ContentFetcher struct {
	db     *database.DB
	client *http.Client
	logger *zap.Logger
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(db *database.DB, timeout time.Duration, logger *zap.Logger) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		db:     db,
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// ExpandTruncated fetches full text for items whose stored text looks like a
// cut-off feed summary. A domain that errors once is skipped for the rest of
// the run.
func (f *ContentFetcher) ExpandTruncated(productID string) *Result {
	items, err := f.db.ListTruncatedFeedback(productID, truncatedTextLen)
	if err != nil {
		f.logger.Error("listing truncated feedback", zap.Error(err))
		return &Result{}
	}

	result := &Result{Candidates: len(items)}
	if len(items) == 0 {
		f.logger.Info("no truncated feedback to expand")
		return result
	}

	failedDomains := make(map[string]struct{})

	for _, item := range items {
		itemURL := ""
		if item.URL != nil {
			itemURL = *item.URL
		}

		u, _ := url.Parse(itemURL)
		domain := ""
		if u != nil {
			domain = strings.ToLower(u.Host)
		}

		if _, failed := failedDomains[domain]; failed {
			result.Failed++
			continue
		}

		text, httpErr := f.fetchPageText(itemURL)
		if httpErr != nil {
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			f.logger.Warn("fetch failed, skipping domain",
				zap.String("url", itemURL), zap.String("domain", domain), zap.Error(httpErr))
			continue
		}

		// Only replace when the page yields more than we already have.
		if len(text) > len(item.Text) {
			if err := f.db.UpdateFeedbackText(item.ID, text); err != nil {
				f.logger.Error("updating feedback text", zap.String("id", item.ID), zap.Error(err))
				result.Failed++
				continue
			}
			result.Expanded++
		} else {
			result.Failed++
		}
	}

	f.logger.Info("content fetch complete",
		zap.Int("candidates", result.Candidates),
		zap.Int("expanded", result.Expanded),
		zap.Int("failed", result.Failed))
	return result
}

func (f *ContentFetcher) fetchPageText(pageURL string) (string, error) {
	req, err := http.NewRequest("GET", pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "insightpipe/1.0 (feedback collector)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil // connection error, not HTTP error
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil
	}

	parsedURL, _ := url.Parse(pageURL)
	page, err := readability.FromReader(strings.NewReader(string(bodyBytes)), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(page.TextContent)
	if len(text) > 100 {
		return text, nil
	}
	return "", nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
