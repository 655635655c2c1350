package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/epiintel/drkb/internal/log"
)

// maxInputsPerRequest bounds one synchronous embeddings request.
const maxInputsPerRequest = 100

// RetryConfig configures retry behavior for embedding API calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for the OpenAI API.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Client is the synchronous embedding path. Suitable for query embedding
// and small update batches; large batches go through BulkClient.
type Client struct {
	api        openai.Client
	apiKey     string
	model      string
	dimensions int
	limiter    *rate.Limiter
	retry      RetryConfig
	logger     log.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithRateLimit caps requests per second across all callers of this client.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetryConfig overrides the retry behavior.
func WithRetryConfig(rc RetryConfig) ClientOption {
	return func(c *Client) { c.retry = rc }
}

// WithBaseURL points the client at a non-default API endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.api = openai.NewClient(option.WithAPIKey(c.apiKey), option.WithBaseURL(url))
	}
}

// NewClient creates a synchronous embedding client.
func NewClient(apiKey, model string, dimensions int, logger log.Logger, opts ...ClientOption) *Client {
	c := &Client{
		api:        openai.NewClient(option.WithAPIKey(apiKey)),
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		retry:      DefaultRetryConfig(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed requests vectors for texts, splitting into bounded API requests and
// preserving input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxInputsPerRequest {
		end := min(start+maxInputsPerRequest, len(texts))

		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	delay := c.retry.InitialInterval

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		// Rate limit each attempt, retries included.
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		vectors, err := c.requestEmbeddings(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("embedding request: %w", err)
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying embedding request",
			"attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("embedding request after %d retries: %w", c.retry.MaxRetries, lastErr)
}

func (c *Client) requestEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(c.model),
		Dimensions:     openai.Int(int64(c.dimensions)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vec := toFloat32(item.Embedding)
		if err := checkDimensions(vec, c.dimensions); err != nil {
			return nil, err
		}
		vectors[item.Index] = vec
	}
	return vectors, nil
}

// retryableError reports whether err is transient. The SDK exposes typed
// errors with status codes, so no string matching is needed here.
func retryableError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
