package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/CompetitorWatch/internal/llm"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

// ErrMalformedResponse is returned when the model answered but the answer
// could not be read as a classification.
var ErrMalformedResponse = errors.New("malformed classification response")

// ItemClassification is the model's verdict for a single update.
type ItemClassification struct {
	Category model.Category
	Summary  string
}

// Classification is the parsed answer for one batch, keyed by the item
// reference used in the prompt.
type Classification struct {
	Items          map[string]ItemClassification
	OverallSummary string
}

// Classifier sends a categorization prompt to a language model.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (*Classification, error)
}

// LLMClassifier classifies batches through an llm.Provider.
type LLMClassifier struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMClassifier creates a classifier backed by provider.
func NewLLMClassifier(provider llm.Provider, maxTokens int) *LLMClassifier {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &LLMClassifier{provider: provider, maxTokens: maxTokens}
}

// Classify generates a response for prompt and parses it.
func (c *LLMClassifier) Classify(ctx context.Context, prompt string) (*Classification, error) {
	if c.provider == nil {
		return nil, errors.New("no LLM provider configured")
	}

	text, err := c.provider.Generate(ctx, prompt, c.maxTokens)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	return ParseClassification(text)
}

// ParseClassification reads a model answer. The "items" field may be either a
// list of {item_id, category, summary} objects or an object keyed by item_id.
func ParseClassification(text string) (*Classification, error) {
	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		return nil, fmt.Errorf("%w: not JSON", ErrMalformedResponse)
	}

	c := &Classification{
		Items:          make(map[string]ItemClassification),
		OverallSummary: strings.TrimSpace(getString(parsed, "summary")),
	}

	switch items := parsed["items"].(type) {
	case []any:
		for _, raw := range items {
			obj, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ref := strings.TrimSpace(getString(obj, "item_id"))
			if ref == "" {
				continue
			}
			c.Items[ref] = itemFrom(obj)
		}
	case map[string]any:
		for ref, raw := range items {
			obj, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			c.Items[strings.TrimSpace(ref)] = itemFrom(obj)
		}
	default:
		return nil, fmt.Errorf("%w: missing items", ErrMalformedResponse)
	}

	return c, nil
}

func itemFrom(obj map[string]any) ItemClassification {
	return ItemClassification{
		Category: ParseCategory(getString(obj, "category")),
		Summary:  strings.TrimSpace(getString(obj, "summary")),
	}
}

// ParseCategory maps a free-form category label onto the fixed taxonomy.
// Unknown labels become "other".
func ParseCategory(s string) model.Category {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "new_feature", "new_features", "feature", "features", "product_update":
		return model.CategoryNewFeature
	case "pricing_change", "pricing_changes", "pricing":
		return model.CategoryPricingChange
	case "messaging_update", "messaging_updates", "messaging", "branding", "positioning":
		return model.CategoryMessagingUpdate
	default:
		return model.CategoryOther
	}
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
