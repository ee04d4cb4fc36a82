package llm

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractJSONPlainObject(t *testing.T) {
	raw, err := ExtractJSON(`{"sentiment": "negative", "score": -0.8}`)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if !strings.HasPrefix(string(raw), "{") {
		t.Errorf("unexpected raw: %s", raw)
	}
}

func TestExtractJSONWithProse(t *testing.T) {
	text := `Here is the analysis you asked for:

{"theme": "Slow exports"}

Let me know if you need anything else.`
	raw, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if string(raw) != `{"theme": "Slow exports"}` {
		t.Errorf("unexpected raw: %s", raw)
	}
}

func TestExtractJSONCodeFence(t *testing.T) {
	for _, text := range []string{
		"```json\n{\"a\": 1}\n```",
		"```\n{\"a\": 1}\n```",
	} {
		raw, err := ExtractJSON(text)
		if err != nil {
			t.Fatalf("ExtractJSON(%q): %v", text, err)
		}
		if string(raw) != `{"a": 1}` {
			t.Errorf("ExtractJSON(%q) = %s", text, raw)
		}
	}
}

func TestExtractJSONBracesInStrings(t *testing.T) {
	text := `{"quote": "use {curly} and \"escaped\" text", "n": 1}`
	raw, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if string(raw) != text {
		t.Errorf("boundary detection truncated the object: %s", raw)
	}
}

func TestExtractJSONArray(t *testing.T) {
	raw, err := ExtractJSON(`The clusters are: [{"theme": "a"}, {"theme": "b"}]`)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if !strings.HasPrefix(string(raw), "[") || !strings.HasSuffix(string(raw), "]") {
		t.Errorf("unexpected raw: %s", raw)
	}
}

func TestExtractJSONNoBoundaries(t *testing.T) {
	for _, text := range []string{"", "   ", "no json here at all"} {
		if _, err := ExtractJSON(text); !errors.Is(err, ErrNoJSON) {
			t.Errorf("ExtractJSON(%q) err = %v, want ErrNoJSON", text, err)
		}
	}
}

func TestExtractJSONMalformed(t *testing.T) {
	_, err := ExtractJSON(`{"a": 1,}`)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "parse error at offset") {
		t.Errorf("expected offset in error, got: %v", err)
	}
}

func TestExtractJSONDeterministic(t *testing.T) {
	text := "prefix {\"x\": [1, 2, {\"y\": \"}\"}]} suffix"
	first, err1 := ExtractJSON(text)
	second, err2 := ExtractJSON(text)
	if err1 != nil || err2 != nil {
		t.Fatalf("errors: %v, %v", err1, err2)
	}
	if string(first) != string(second) {
		t.Errorf("not deterministic: %s vs %s", first, second)
	}
}

func TestExtractInto(t *testing.T) {
	var out struct {
		Theme string `json:"theme"`
	}
	if err := ExtractInto("```json\n{\"theme\": \"Billing\"}\n```", &out); err != nil {
		t.Fatalf("ExtractInto: %v", err)
	}
	if out.Theme != "Billing" {
		t.Errorf("theme = %q", out.Theme)
	}

	if err := ExtractInto("nothing", &out); !errors.Is(err, ErrNoJSON) {
		t.Errorf("err = %v, want ErrNoJSON", err)
	}
}
