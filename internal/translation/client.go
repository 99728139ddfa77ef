package translation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/yuewen-li/speech2speech/internal/ports"
)

const portName = "translation"

// Display names used in translation prompts, keyed by primary language
// subtag. Tags outside this table fall back to the raw tag, which the model
// handles well enough in practice.
var languageNames = map[string]string{
	"zh": "Chinese",
	"en": "English",
	"uk": "Ukrainian",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"ja": "Japanese",
	"ko": "Korean",
}

// Config contains translation client configuration.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

// Client translates text between the session's language pair using the
// Gemini API. It implements the translation port.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel

	totalRequests  uint64
	failedRequests uint64
	mu             sync.RWMutex
}

// NewClient creates a translation client. The caller owns the context used
// only for client construction.
func NewClient(ctx context.Context, config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash-lite"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(config.Model)
	model.GenerationConfig.SetTemperature(config.Temperature)
	model.GenerationConfig.SetMaxOutputTokens(2048)

	return &Client{
		client: client,
		model:  model,
	}, nil
}

// Translate translates text from sourceLang to targetLang. Empty input
// short-circuits to an empty translation without an API call.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	c.incrementTotal()

	prompt := buildPrompt(text, sourceLang, targetLang)
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		c.incrementFailed()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyError(err)
	}

	translation := strings.TrimSpace(responseText(resp))
	if translation == "" {
		c.incrementFailed()
		return "", ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("model returned empty translation"))
	}

	return translation, nil
}

// buildPrompt renders the translation instruction for one language pair.
func buildPrompt(text, sourceLang, targetLang string) string {
	source := languageName(sourceLang)
	target := languageName(targetLang)

	return fmt.Sprintf(`You are a professional %s to %s translator.
Translate the following %s text to natural, fluent %s.
Maintain the original meaning and tone. Only return the %s translation, nothing else.

%s text: %s`,
		source, target, source, target, target, source, text)
}

func languageName(tag string) string {
	primary := tag
	if idx := strings.IndexByte(tag, '-'); idx > 0 {
		primary = tag[:idx]
	}
	if name, ok := languageNames[strings.ToLower(primary)]; ok {
		return name
	}
	return tag
}

// responseText concatenates the text parts of a generation response.
func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return sb.String()
}

// classifyError maps Gemini API failures to port error kinds. The SDK does
// not expose typed errors for quota and auth, so classification is by
// status text.
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "429"):
		return ports.NewPortError(portName, ports.KindQuota, err)
	case strings.Contains(msg, "api key") || strings.Contains(msg, "permission_denied") ||
		strings.Contains(msg, "unauthenticated"):
		return ports.NewPortError(portName, ports.KindAuth, err)
	default:
		return ports.NewPortError(portName, ports.KindTransient, err)
	}
}

func (c *Client) incrementTotal() {
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()
}

func (c *Client) incrementFailed() {
	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()
}

// GetStats returns request counters for the monitoring surface.
func (c *Client) GetStats() (total, failed uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalRequests, c.failedRequests
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	return c.client.Close()
}
