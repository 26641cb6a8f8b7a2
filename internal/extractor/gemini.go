package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tradecomply/internal/model"
	"tradecomply/internal/retry"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultGeminiTimeout = 60 * time.Second
	defaultRetryAttempts = 4
)

const extractionPrompt = `You are a strict Compliance Officer. Analyze this document.
Task:
1. Identify the Document Type (e.g., White Card, Driver License).
2. Extract the Expiry Date (YYYY-MM-DD).
3. Extract the License Number.
4. Extract the Name.
5. Extract a brief summary of content.

Output ONLY raw JSON. No markdown.
Structure: { "type": "string", "expiryDate": "string", "licenseNumber": "string", "name": "string", "confidence": number, "content": "string" }`

// GeminiConfig captures the settings needed to call the Generative Language API
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiExtractor calls Gemini generateContent with the artifact inlined
type GeminiExtractor struct {
	cfg        GeminiConfig
	httpClient *http.Client
	policy     *retry.Policy
	attempts   int
	sleep      retry.Sleeper
}

// GeminiOption customizes the extractor
type GeminiOption func(*GeminiExtractor)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) GeminiOption {
	return func(g *GeminiExtractor) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithRetry overrides the retry policy and attempt count
func WithRetry(policy *retry.Policy, attempts int) GeminiOption {
	return func(g *GeminiExtractor) {
		if policy != nil {
			g.policy = policy
		}
		g.attempts = attempts
	}
}

// WithSleeper overrides how retry waits are performed (useful for tests)
func WithSleeper(sleep retry.Sleeper) GeminiOption {
	return func(g *GeminiExtractor) {
		g.sleep = sleep
	}
}

// NewGeminiExtractor constructs an extractor from cfg
func NewGeminiExtractor(cfg GeminiConfig, opts ...GeminiOption) *GeminiExtractor {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGeminiTimeout
	}

	g := &GeminiExtractor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy:     retry.NewPolicy(time.Second, 10*time.Second, true, nil),
		attempts:   defaultRetryAttempts,
		sleep:      retry.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// modelResult is the JSON shape the prompt asks the model to return
type modelResult struct {
	Type          string   `json:"type"`
	ExpiryDate    string   `json:"expiryDate"`
	LicenseNumber string   `json:"licenseNumber"`
	Name          string   `json:"name"`
	Confidence    *float64 `json:"confidence"`
	Content       string   `json:"content"`
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gemini: http %d: %s", e.StatusCode, e.Body)
}

// Extract sends data to Gemini and maps the JSON answer onto an Extraction
func (g *GeminiExtractor) Extract(ctx context.Context, data []byte, contentType string) (*model.Extraction, error) {
	contentType = normalizeContentType(contentType)
	if !Supported(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrExtraction)
	}
	if g.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key required", ErrExtraction)
	}

	payload := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: extractionPrompt},
				{InlineData: &inlineData{MimeType: contentType, Data: base64.StdEncoding.EncodeToString(data)}},
			},
		}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	}

	var text string
	err := retry.Do(ctx, g.policy, g.attempts, g.sleep, retryable, func(ctx context.Context) error {
		var err error
		text, err = g.generate(ctx, payload)
		if err != nil {
			logrus.WithError(err).Warn("Gemini request failed")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	return parseResult(text)
}

func (g *GeminiExtractor) generate(ctx context.Context, payload generateRequest) (string, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.cfg.BaseURL, url.PathEscape(g.cfg.Model))
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gemini: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("gemini: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini: prompt blocked: %s", decoded.PromptFeedback.BlockReason)
	}
	for _, candidate := range decoded.Candidates {
		var sb strings.Builder
		for _, p := range candidate.Content.Parts {
			sb.WriteString(p.Text)
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			return text, nil
		}
	}
	return "", errors.New("gemini: empty response")
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func parseResult(text string) (*model.Extraction, error) {
	var result modelResult
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &result); err != nil {
		return nil, fmt.Errorf("%w: malformed result: %w", ErrExtraction, err)
	}

	extraction := &model.Extraction{
		DocType:    strings.TrimSpace(result.Type),
		Deadline:   strings.TrimSpace(result.ExpiryDate),
		IDNumber:   strings.TrimSpace(result.LicenseNumber),
		HolderName: strings.TrimSpace(result.Name),
		Content:    strings.TrimSpace(result.Content),
	}
	if result.Confidence != nil {
		extraction.Confidence = *result.Confidence
	}
	if extraction.Confidence < 0 {
		extraction.Confidence = 0
	}
	return extraction, nil
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.ReplaceAll(trimmed, "```json", "")
	trimmed = strings.ReplaceAll(trimmed, "```", "")
	return strings.TrimSpace(trimmed)
}
