package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/yuewen-li/speech2speech/internal/audio"
	"github.com/yuewen-li/speech2speech/internal/ports"
)

const portName = "transcription"

// Error codes the recognition API reports in a structured error body.
const (
	apiErrLanguageDetection = "language_detection_failed"
	apiErrAudioTooShort     = "audio_too_short"
)

// Client is the HTTP client for the speech recognition API. Audio is
// uploaded as a WAV file in a multipart form together with chunk metadata.
// The client performs exactly one request per Transcribe call; retries are
// the caller's concern, so every failure is classified into a port error
// kind the retry policy can act on.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // caps in-flight requests

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains recognition client configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxConcurrent int
}

// apiResponse is the recognition API's JSON response body.
type apiResponse struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	Final      *bool   `json:"final,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ClientStats represents client statistics.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new recognition HTTP client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
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

// Transcribe uploads one utterance chunk and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, chunk *audio.AudioChunk, language string) (*ports.Transcript, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	transcript, err := c.doRequest(ctx, chunk, language)
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return transcript, nil
}

// doRequest performs a single HTTP request against the recognition API.
func (c *Client) doRequest(ctx context.Context, chunk *audio.AudioChunk, language string) (*ports.Transcript, error) {
	body, contentType, err := c.createMultipartRequest(chunk, language)
	if err != nil {
		return nil, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("failed to create multipart request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, body)
	if err != nil {
		return nil, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("failed to create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyHTTPError(resp.StatusCode, respBody)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, ports.NewPortError(portName, ports.KindTransient,
			fmt.Errorf("failed to parse response JSON: %w", err))
	}

	if apiResp.Error != nil {
		return nil, c.classifyAPIError(apiResp.Error.Code, apiResp.Error.Message)
	}

	final := true
	if apiResp.Final != nil {
		final = *apiResp.Final
	}

	return &ports.Transcript{
		Text:       apiResp.Text,
		Confidence: apiResp.Confidence,
		Language:   apiResp.Language,
		Final:      final,
	}, nil
}

// createMultipartRequest builds a multipart/form-data body with the chunk
// encoded as a WAV file plus its metadata fields.
func (c *Client) createMultipartRequest(chunk *audio.AudioChunk, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	wavData, err := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode chunk as WAV: %w", err)
	}

	filename := fmt.Sprintf("%s-%d.wav", chunk.SessionID, chunk.Sequence)
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"session_id":  chunk.SessionID,
		"sequence":    fmt.Sprintf("%d", chunk.Sequence),
		"sample_rate": fmt.Sprintf("%d", chunk.SampleRate),
		"duration":    fmt.Sprintf("%.3f", chunk.Duration.Seconds()),
		"language":    language,
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// classifyHTTPError maps an HTTP status to a port error kind. Server errors
// and network-level throttling are transient; auth and quota failures will
// not heal on retry and must surface immediately.
func (c *Client) classifyHTTPError(status int, body []byte) error {
	err := fmt.Errorf("HTTP error %d: %s", status, string(body))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ports.NewPortError(portName, ports.KindAuth, err)
	case status == http.StatusTooManyRequests:
		return ports.NewPortError(portName, ports.KindQuota, err)
	case status >= 500:
		return ports.NewPortError(portName, ports.KindTransient, err)
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		// The API reports recognition failures as 4xx with a structured body.
		var apiResp apiResponse
		if jerr := json.Unmarshal(body, &apiResp); jerr == nil && apiResp.Error != nil {
			return c.classifyAPIError(apiResp.Error.Code, apiResp.Error.Message)
		}
		return ports.NewPortError(portName, ports.KindTransient, err)
	default:
		return ports.NewPortError(portName, ports.KindTransient, err)
	}
}

// classifyAPIError maps a structured API error code to a port error kind.
func (c *Client) classifyAPIError(code, message string) error {
	err := fmt.Errorf("recognition API error %s: %s", code, message)

	switch code {
	case apiErrLanguageDetection:
		return ports.NewPortError(portName, ports.KindLanguageDetection, err)
	case apiErrAudioTooShort:
		return ports.NewPortError(portName, ports.KindAudioTooShort, err)
	default:
		return ports.NewPortError(portName, ports.KindTransient, err)
	}
}

func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close gracefully shuts down the client, waiting for in-flight requests.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
