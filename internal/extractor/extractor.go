// Package extractor turns artifact bytes into a structured extraction.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"tradecomply/internal/config"
	"tradecomply/internal/model"
)

var (
	// ErrExtraction wraps every failure of an extraction capability
	ErrExtraction = errors.New("extraction failed")
	// ErrUnsupportedContentType is returned for content the capability cannot read
	ErrUnsupportedContentType = fmt.Errorf("%w: unsupported content type", ErrExtraction)
)

// Extractor analyses artifact bytes
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*model.Extraction, error)
}

var supportedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
}

// Supported reports whether contentType can be sent for extraction
func Supported(contentType string) bool {
	return supportedContentTypes[normalizeContentType(contentType)]
}

func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// New builds the extractor selected by cfg.Driver
func New(cfg config.ExtractorConfig) (Extractor, error) {
	switch cfg.Driver {
	case "gemini":
		return NewGeminiExtractor(GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "static":
		return NewStaticExtractor(&model.Extraction{
			DocType:    "Document",
			Confidence: 1,
			Content:    "static extraction",
		}, nil), nil
	default:
		return nil, fmt.Errorf("unsupported extractor driver %q", cfg.Driver)
	}
}

// StaticExtractor returns the same result for every supported input
type StaticExtractor struct {
	result *model.Extraction
	err    error
	calls  atomic.Int64
}

// NewStaticExtractor returns result, or err when err is non-nil
func NewStaticExtractor(result *model.Extraction, err error) *StaticExtractor {
	return &StaticExtractor{result: result, err: err}
}

// Extract returns a copy of the configured result
func (s *StaticExtractor) Extract(ctx context.Context, data []byte, contentType string) (*model.Extraction, error) {
	s.calls.Add(1)
	if !Supported(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	if s.err != nil {
		if errors.Is(s.err, ErrExtraction) {
			return nil, s.err
		}
		return nil, fmt.Errorf("%w: %w", ErrExtraction, s.err)
	}
	if s.result == nil {
		return nil, fmt.Errorf("%w: empty result", ErrExtraction)
	}
	out := *s.result
	return &out, nil
}

// Calls returns how many times Extract was invoked
func (s *StaticExtractor) Calls() int {
	return int(s.calls.Load())
}
