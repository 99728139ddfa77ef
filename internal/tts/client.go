package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yuewen-li/speech2speech/internal/audio"
	"github.com/yuewen-li/speech2speech/internal/ports"
)

const portName = "synthesis"

// apiErrNoVoice is the API's error code when no voice is available for the
// requested language.
const apiErrNoVoice = "no_voice_for_language"

// Config contains synthesis client configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
	SampleRate    int

	// Voices maps a language tag to the voice requested for it. Languages
	// absent from the map use the API's default voice.
	Voices map[string]string
}

// synthesisRequest is the JSON request body for the synthesis API.
type synthesisRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is the HTTP client for the speech synthesis API. It submits text
// and receives a mono 16-bit WAV, which it decodes to raw samples for the
// output multiplexer. Like the recognition client it performs one request
// per call and leaves retries to the pipeline stage.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}

	totalRequests  uint64
	failedRequests uint64
	mu             sync.RWMutex
}

// NewClient creates a new synthesis HTTP client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Synthesize converts text to speech in targetLang, returning raw samples
// and their sample rate.
func (c *Client) Synthesize(ctx context.Context, text, targetLang string) ([]int16, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, c.config.SampleRate, nil
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	c.incrementTotal()

	samples, rate, err := c.doRequest(ctx, text, targetLang)
	if err != nil {
		c.incrementFailed()
		return nil, 0, err
	}
	return samples, rate, nil
}

func (c *Client) doRequest(ctx context.Context, text, targetLang string) ([]int16, int, error) {
	reqBody := synthesisRequest{
		Text:       text,
		Language:   targetLang,
		Voice:      c.config.Voices[targetLang],
		SampleRate: c.config.SampleRate,
		Format:     "wav",
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("failed to encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("failed to create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, c.classifyHTTPError(resp.StatusCode, respBody)
	}

	samples, rate, err := audio.DecodeWAV(respBody)
	if err != nil {
		return nil, 0, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("failed to decode synthesized WAV: %w", err))
	}

	return samples, rate, nil
}

func (c *Client) classifyHTTPError(status int, body []byte) error {
	err := fmt.Errorf("HTTP error %d: %s", status, string(body))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ports.NewPortError(portName, ports.KindAuth, err)
	case status == http.StatusTooManyRequests:
		return ports.NewPortError(portName, ports.KindQuota, err)
	case status >= 500:
		return ports.NewPortError(portName, ports.KindTransient, err)
	default:
		var apiErr apiError
		if jerr := json.Unmarshal(body, &apiErr); jerr == nil && apiErr.Error.Code == apiErrNoVoice {
			return ports.NewPortError(portName, ports.KindNoVoice,
				fmt.Errorf("synthesis API error %s: %s", apiErr.Error.Code, apiErr.Error.Message))
		}
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

// Close gracefully shuts down the client, waiting for in-flight requests.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
