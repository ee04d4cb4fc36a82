package llm

import (
	"testing"

	"go.uber.org/zap"
)

func TestCreateProviderUnconfigured(t *testing.T) {
	t.Setenv("INSIGHTPIPE_TEST_API_KEY", "")

	p := CreateProvider(zap.NewNop(), "openai", "", "", "gpt-4o-mini", "INSIGHTPIPE_TEST_API_KEY")
	if p != nil {
		t.Fatalf("expected nil provider when no backend is available, got %T", p)
	}
}

func TestCreateProviderOpenAI(t *testing.T) {
	t.Setenv("INSIGHTPIPE_TEST_API_KEY", "sk-test")

	p := CreateProvider(zap.NewNop(), "openai", "", "", "gpt-4o-mini", "INSIGHTPIPE_TEST_API_KEY")
	if p == nil {
		t.Fatal("expected a provider when the API key is set")
	}
	if !p.IsConfigured() {
		t.Error("expected provider to report configured")
	}
}

func TestOpenAIProviderIsConfigured(t *testing.T) {
	p := &OpenAIProvider{}
	if p.IsConfigured() {
		t.Error("expected unconfigured without an API key")
	}

	p.APIKey = "sk-test"
	if !p.IsConfigured() {
		t.Error("expected configured with an API key")
	}
}
