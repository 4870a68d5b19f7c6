package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/susu3304/splitbot/internal/receipt"
	"github.com/susu3304/splitbot/internal/retry"
)

const DefaultModel = "gpt-4o-mini"

const prompt = `You are reading a photo of a purchase receipt.
Reply with a single JSON object and nothing else, using exactly these keys:
{
  "is_receipt": true,
  "merchant": "store name or null",
  "date": "YYYY-MM-DD or null",
  "total": 0.00,
  "tax": 0.00,
  "currency": "ISO 4217 code such as USD",
  "items": [{"name": "item name", "price": 0.00, "quantity": 1}]
}
Amounts are plain numbers without currency symbols. Use null for anything
that is not printed on the receipt. List every line item. If the image is
not a receipt set "is_receipt" to false.`

// Config configures a VisionClient.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// Timeout bounds a single attempt. Backoff waits are not included.
	Timeout time.Duration
	Retry   retry.Policy

	// RPS limits outbound calls per second across all callers. Zero means
	// unlimited.
	RPS   float64
	Burst int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// VisionClient implements Extractor with a chat completion request.
type VisionClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	policy  retry.Policy
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewVisionClient(cfg Config) *VisionClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	policy := cfg.Retry
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &VisionClient{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: cfg.Timeout,
		policy:  policy,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

func (c *VisionClient) Extract(ctx context.Context, data []byte, mimeType string) (receipt.Raw, error) {
	mt, err := checkInput(data, mimeType)
	if err != nil {
		return receipt.Raw{}, err
	}
	req := c.request(mt, data)

	var out receipt.Raw
	err = c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// The next slot lies past the deadline.
			return &Failure{Kind: KindTransient, Err: fmt.Errorf("rate limited: %w", err)}
		}
		raw, err := c.attempt(ctx, req)
		if err != nil {
			c.log.Warn("extraction attempt failed",
				zap.Int("attempt", attempt),
				zap.Bool("transient", IsTransient(err)),
				zap.Error(err))
			return err
		}
		out = raw
		return nil
	})
	if err != nil {
		return receipt.Raw{}, classify(ctx, err)
	}
	return out, nil
}

func (c *VisionClient) attempt(ctx context.Context, req openai.ChatCompletionRequest) (receipt.Raw, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return receipt.Raw{}, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return receipt.Raw{}, &Failure{Kind: KindMalformedResponse, Err: errors.New("empty completion")}
	}
	return parseReply(resp.Choices[0].Message.Content)
}

func (c *VisionClient) request(mimeType string, data []byte) openai.ChatCompletionRequest {
	url := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    url,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}},
		// omitempty drops a literal zero.
		Temperature: math.SmallestNonzeroFloat32,
		MaxTokens:   1024,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

// IsTransient reports whether a remote error is worth another attempt:
// timeouts, network failures, 429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := KindOf(err); ok {
		return false
	}
	if status, ok := httpStatus(err); ok {
		return status == http.StatusTooManyRequests || status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

// classify maps the final error of a retry loop onto a Failure. Running
// out of time counts as a transient failure; only a cancel is passed back.
func classify(ctx context.Context, err error) error {
	if _, ok := KindOf(err); ok {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if retry.IsExhausted(err) || ctx.Err() != nil {
		return &Failure{Kind: KindTransient, Err: err}
	}
	if status, ok := httpStatus(err); ok {
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &Failure{Kind: KindRemoteAuth, Err: err}
		case status >= 400 && status < 500:
			return &Failure{Kind: KindRejected, Err: err}
		}
	}
	return &Failure{Kind: KindMalformedResponse, Err: fmt.Errorf("unexpected response: %w", err)}
}
