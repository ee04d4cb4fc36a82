package collect

import (
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>Export is <b>broken</b></p>", "Export is broken"},
		{"no markup here", "no markup here"},
		{"a &amp; b &lt;ok&gt;", "a & b <ok>"},
		{"spaces   \n\t everywhere", "spaces everywhere"},
	}
	for _, tt := range tests {
		if got := stripHTML(tt.in); got != tt.want {
			t.Errorf("stripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseItem(t *testing.T) {
	pub := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	item := &gofeed.Item{
		Link:            "https://forum.example.com/t/42",
		Title:           "Export broken again",
		Description:     "<p>Large workspaces time out on export.</p>",
		PublishedParsed: &pub,
		Author:          &gofeed.Person{Name: "jsmith"},
	}

	entry := parseItem(item, "forum")
	if entry == nil {
		t.Fatal("expected entry")
	}
	if entry.Text != "Export broken again. Large workspaces time out on export." {
		t.Errorf("unexpected text: %q", entry.Text)
	}
	if entry.Channel != "forum" || entry.Author != "jsmith" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !entry.Published.Equal(pub) {
		t.Errorf("published = %v, want %v", entry.Published, pub)
	}
}

func TestParseItemSkipsEmpty(t *testing.T) {
	if entry := parseItem(&gofeed.Item{Title: "no link"}, "forum"); entry != nil {
		t.Errorf("expected nil for item without URL, got %+v", entry)
	}
	if entry := parseItem(&gofeed.Item{Link: "https://x.test/1"}, "forum"); entry != nil {
		t.Errorf("expected nil for item without text, got %+v", entry)
	}
}

func TestExtractSourceName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://community.acme.com/latest.rss", "Acme"},
		{"https://www.example.org/feed", "Example"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := extractSourceName(tt.url); got != tt.want {
			t.Errorf("extractSourceName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
