package synth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Generator produces one completion for a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// LLMConfig selects a provider and model.
type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

var defaultModels = map[string]string{
	"google":    "gemini-2.5-flash",
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o-mini",
}

// GenkitGenerator calls a model through genkit.
type GenkitGenerator struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitGenerator initialises genkit for cfg.Provider. It returns nil when
// no API key is available; synthesis is then disabled.
func NewGenkitGenerator(ctx context.Context, cfg LLMConfig) *GenkitGenerator {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModels[provider]
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}
	if apiKey == "" {
		slog.Warn("LLM API key missing; skill synthesis disabled", "provider", provider)
		return nil
	}

	var g *genkit.Genkit
	switch provider {
	case "anthropic":
		g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
		}))
	case "openai", "openai_compatible", "openrouter":
		baseURL := cfg.BaseURL
		if provider == "openrouter" && baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: provider,
			APIKey:   apiKey,
			BaseURL:  baseURL,
		}))
	case "google":
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		g = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{}),
			genkit.WithDefaultModel("googleai/"+model),
		)
	default:
		slog.Warn("unknown LLM provider; skill synthesis disabled", "provider", provider)
		return nil
	}
	slog.Info("skill synthesis enabled", "provider", provider, "model", model)
	return &GenkitGenerator{g: g, model: modelNameForProvider(provider, model)}
}

func (gg *GenkitGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), nil
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "google":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openrouter", "openai_compatible":
		// These take the upstream model name as-is.
		return model
	default:
		return "googleai/" + model
	}
}
