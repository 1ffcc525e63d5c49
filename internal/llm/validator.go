package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ppiankov/placemaster/internal/cache"
	"github.com/ppiankov/placemaster/internal/logging"
	"github.com/ppiankov/placemaster/internal/oracle"
)

// ErrDisabled is returned by Validate when no provider is configured
var ErrDisabled = errors.New("llm validation disabled")

const validationSystemPrompt = "You judge whether a word in a Japanese sentence is used as a geographic place name. " +
	"Answer with a single JSON object and nothing else."

// PlaceValidator implements oracle.Validator with an LLM provider
type PlaceValidator struct {
	provider Provider
	config   Config
	cache    cache.Cache
	log      *logging.Logger
}

// NewPlaceValidator creates a validator. A config without provider yields a disabled validator.
// c may be nil to disable answer caching.
func NewPlaceValidator(config Config, c cache.Cache, log *logging.Logger) (*PlaceValidator, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	return newPlaceValidator(provider, config, c, log), nil
}

func newPlaceValidator(provider Provider, config Config, c cache.Cache, log *logging.Logger) *PlaceValidator {
	return &PlaceValidator{
		provider: provider,
		config:   config,
		cache:    c,
		log:      logging.OrNop(log).With("component", "llm"),
	}
}

// IsEnabled returns true if a provider is configured
func (v *PlaceValidator) IsEnabled() bool {
	return v.provider != nil
}

// ProviderName returns the configured provider name
func (v *PlaceValidator) ProviderName() string {
	if v.provider == nil {
		return ""
	}
	return v.provider.Name()
}

// Validate asks the model whether name is used as a place in sentence.
// Unparseable answers are reported as transient so the caller can retry.
func (v *PlaceValidator) Validate(ctx context.Context, name, sentence string) (*oracle.Validation, error) {
	if v.provider == nil {
		return nil, ErrDisabled
	}

	key := cache.CacheKey("validation", v.provider.Name(), v.config.Model, name, sentence)
	if cached, ok := v.cached(key); ok {
		return cached, nil
	}

	start := time.Now()
	resp, err := v.provider.Complete(ctx, CompletionRequest{
		System:      validationSystemPrompt,
		Prompt:      BuildValidationPrompt(name, sentence),
		MaxTokens:   v.config.MaxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	verdict, err := ParseValidation(resp.Text)
	if err != nil {
		v.log.Warn("unparseable validation answer", "name", name, "provider", v.provider.Name(), "error", err)
		return nil, oracle.Transient(v.provider.Name(), 0, err)
	}

	v.log.Debug("validated candidate",
		"name", name,
		"valid", verdict.IsValid,
		"confidence", verdict.Confidence,
		"tokens", resp.TokensUsed,
		"duration", time.Since(start),
	)
	v.store(key, verdict)
	return verdict, nil
}

// BuildValidationPrompt constructs the user prompt for a candidate and its sentence
func BuildValidationPrompt(name, sentence string) string {
	if strings.TrimSpace(sentence) == "" {
		sentence = "(no surrounding sentence)"
	}
	return fmt.Sprintf(`以下の文章中の「%[1]s」について分析してください。

文章: %[2]s

以下の点について判定してください：
1. 「%[1]s」は地名として使われているか？
2. 人名・普通名詞・時間表現の可能性はないか？
3. もし地名なら、どの地域の可能性が高いか？
4. 判定の信頼度（0-1）は？

JSON形式で回答してください：
{
    "is_place_name": true/false,
    "confidence": 0.0-1.0,
    "region_suggestion": "推定地域",
    "reasoning": "判定理由"
}`, name, sentence)
}

type validationAnswer struct {
	IsPlaceName      *bool    `json:"is_place_name"`
	Confidence       *float64 `json:"confidence"`
	RegionSuggestion string   `json:"region_suggestion"`
	Reasoning        string   `json:"reasoning"`
}

// ParseValidation extracts the JSON verdict from a model answer, tolerating code fences
// and surrounding prose. Confidence is clamped to [0,1].
func ParseValidation(text string) (*oracle.Validation, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in answer: %q", truncate(text, 80))
	}

	var ans validationAnswer
	if err := json.Unmarshal([]byte(text[start:end+1]), &ans); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	if ans.IsPlaceName == nil {
		return nil, errors.New("answer missing is_place_name")
	}

	conf := 0.0
	if ans.Confidence != nil && !math.IsNaN(*ans.Confidence) {
		conf = math.Max(0, math.Min(1, *ans.Confidence))
	}

	return &oracle.Validation{
		IsValid:          *ans.IsPlaceName,
		Confidence:       conf,
		Reasoning:        strings.TrimSpace(ans.Reasoning),
		RegionSuggestion: strings.TrimSpace(ans.RegionSuggestion),
	}, nil
}

func (v *PlaceValidator) cached(key string) (*oracle.Validation, bool) {
	if v.cache == nil {
		return nil, false
	}
	data, ok := v.cache.Get(key)
	if !ok {
		return nil, false
	}
	var verdict oracle.Validation
	if err := json.Unmarshal(data, &verdict); err != nil {
		_ = v.cache.Delete(key)
		return nil, false
	}
	return &verdict, true
}

func (v *PlaceValidator) store(key string, verdict *oracle.Validation) {
	if v.cache == nil {
		return
	}
	data, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	ttl := time.Duration(v.config.CacheTTL) * time.Second
	if err := v.cache.Set(key, data, ttl); err != nil {
		v.log.Debug("cache set failed", "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
