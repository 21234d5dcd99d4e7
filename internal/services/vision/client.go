package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"

	"birdwatcher/internal/config"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/metrics"
	"birdwatcher/internal/services"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 30 * time.Second

	// Rough prompt-side token costs used for budget reservations.
	lowDetailImageTokens  = 85
	highDetailImageTokens = 765
)

// OperationConfig holds per-operation request settings.
type OperationConfig struct {
	MaxTokens int
	Detail    Detail
}

// Config captures the runtime settings of a Client.
type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	Timeout            time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	BackoffMultiplier  float64
	MinRequestInterval time.Duration
	TokensPerMinute    int
	CacheTTL           time.Duration
	CacheMaxEntries    int
	Detect             OperationConfig
	Identify           OperationConfig
	Compare            OperationConfig
}

// ConfigFromSettings maps the [vision] configuration section onto a Config.
func ConfigFromSettings(cfg *config.Config) Config {
	v := cfg.Vision
	return Config{
		APIKey:             v.APIKey,
		BaseURL:            v.BaseURL,
		Model:              v.Model,
		Timeout:            time.Duration(v.TimeoutSeconds) * time.Second,
		MaxRetries:         v.MaxRetries,
		RetryDelay:         time.Duration(v.RetryDelayMS) * time.Millisecond,
		BackoffMultiplier:  v.BackoffMultiplier,
		MinRequestInterval: time.Duration(v.MinRequestIntervalMS) * time.Millisecond,
		TokensPerMinute:    v.TokensPerMinute,
		CacheTTL:           time.Duration(v.CacheTTLSeconds) * time.Second,
		CacheMaxEntries:    v.CacheMaxEntries,
		Detect:             OperationConfig{MaxTokens: v.Detect.MaxTokens, Detail: Detail(v.Detect.Detail)},
		Identify:           OperationConfig{MaxTokens: v.Identify.MaxTokens, Detail: Detail(v.Identify.Detail)},
		Compare:            OperationConfig{MaxTokens: v.Compare.MaxTokens, Detail: Detail(v.Compare.Detail)},
	}
}

// Client talks to an OpenAI-compatible chat completions endpoint. The cache
// and pacing state belong to the instance, so independently configured
// clients never share budgets.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.VisionMetrics
	validate   *validator.Validate
	cache      *responseCache
	pacer      *pacer
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger used for retry and cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records request, cache and token metrics.
func WithMetrics(m *metrics.VisionMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.NewNop(),
		validate:   validator.New(),
		cache:      newResponseCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		pacer:      newPacer(cfg.MinRequestInterval, cfg.TokensPerMinute),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "vision")
	return client
}

// NewFromConfig builds a client from application configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	return NewClient(ConfigFromSettings(cfg), opts...)
}

// Detect asks whether any birds are visible in the image.
func (c *Client) Detect(ctx context.Context, imagePath string) (DetectResult, error) {
	var result DetectResult
	image, err := readImage(imagePath)
	if err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpDetect), "read image", err)
	}
	key := cacheKey(OpDetect, c.cfg.Detect.Detail, image)
	if cached, ok := c.cachedValue(OpDetect, key); ok {
		return cached.(DetectResult), nil
	}

	content, err := c.complete(ctx, OpDetect, c.cfg.Detect, []contentPart{
		textPart(detectPrompt),
		imagePart(image, c.cfg.Detect.Detail),
	})
	if err != nil {
		return result, err
	}
	if err := DecodeJSON(content, &result); err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpDetect), "parse payload", err)
	}
	result.Confidence = normalizeConfidence(result.Confidence)
	if result.BirdsDetected < 0 {
		result.BirdsDetected = 0
	}
	if err := c.validate.Struct(result); err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpDetect), "invalid payload", err)
	}
	c.cache.set(key, result)
	return result, nil
}

// Identify asks for species, gender and features of every bird in the image.
// An empty detail uses the configured identify detail.
func (c *Client) Identify(ctx context.Context, imagePath string, detail Detail) (IdentifyResult, error) {
	var result IdentifyResult
	opCfg := c.cfg.Identify
	if detail != "" {
		opCfg.Detail = detail
	}
	image, err := readImage(imagePath)
	if err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpIdentify), "read image", err)
	}
	key := cacheKey(OpIdentify, opCfg.Detail, image)
	if cached, ok := c.cachedValue(OpIdentify, key); ok {
		return cached.(IdentifyResult), nil
	}

	content, err := c.complete(ctx, OpIdentify, opCfg, []contentPart{
		textPart(identifyPrompt),
		imagePart(image, opCfg.Detail),
	})
	if err != nil {
		return result, err
	}
	if err := DecodeJSON(content, &result); err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpIdentify), "parse payload", err)
	}
	result.Birds = c.cleanBirds(result.Birds)
	if result.BirdsDetected < len(result.Birds) {
		result.BirdsDetected = len(result.Birds)
	}
	c.cache.set(key, result)
	return result, nil
}

// Compare asks whether two images show the same individual bird.
func (c *Client) Compare(ctx context.Context, imagePathA, imagePathB string) (CompareResult, error) {
	var result CompareResult
	imageA, err := readImage(imagePathA)
	if err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpCompare), "read first image", err)
	}
	imageB, err := readImage(imagePathB)
	if err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpCompare), "read second image", err)
	}
	key := cacheKey(OpCompare, c.cfg.Compare.Detail, imageA, imageB)
	if cached, ok := c.cachedValue(OpCompare, key); ok {
		return cached.(CompareResult), nil
	}

	content, err := c.complete(ctx, OpCompare, c.cfg.Compare, []contentPart{
		textPart("Image 1:"),
		imagePart(imageA, c.cfg.Compare.Detail),
		textPart("Image 2:"),
		imagePart(imageB, c.cfg.Compare.Detail),
		textPart(comparePrompt),
	})
	if err != nil {
		return result, err
	}
	if err := DecodeJSON(content, &result); err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpCompare), "parse payload", err)
	}
	result.Confidence = normalizeConfidence(result.Confidence)
	result.Reasoning = strings.TrimSpace(result.Reasoning)
	if err := c.validate.Struct(result); err != nil {
		return result, services.Wrap(services.ErrValidation, "vision", string(OpCompare), "invalid payload", err)
	}
	c.cache.set(key, result)
	return result, nil
}

// HealthCheck issues a text-only request to verify the key and model.
func (c *Client) HealthCheck(ctx context.Context) error {
	content, err := c.complete(ctx, OpHealth, OperationConfig{MaxTokens: 20}, []contentPart{
		textPart(`You must respond with JSON only. Respond with {"ok":true}`),
	})
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(content, &parsed); err != nil {
		return fmt.Errorf("vision health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("vision health: unexpected response")
	}
	return nil
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cache.flush()
	c.logger.Info("vision cache cleared", logging.String(logging.FieldEventType, "vision_cache_cleared"))
}

// CacheStats reports cache occupancy and the tokens used in the current window.
func (c *Client) CacheStats() CacheStats {
	stats := c.cache.stats()
	stats.TokensUsed = c.pacer.window.used()
	return stats
}

func (c *Client) cachedValue(op Operation, key string) (any, bool) {
	value, ok := c.cache.get(key)
	c.metrics.RecordCache(string(op), ok)
	if ok {
		c.logger.Debug("vision cache hit", logging.String("operation", string(op)))
	}
	return value, ok
}

func (c *Client) cleanBirds(birds []Bird) []Bird {
	cleaned := make([]Bird, 0, len(birds))
	for _, bird := range birds {
		bird.Species = strings.TrimSpace(bird.Species)
		bird.CommonName = strings.TrimSpace(bird.CommonName)
		bird.Gender = strings.ToLower(strings.TrimSpace(bird.Gender))
		bird.Features = strings.TrimSpace(bird.Features)
		bird.Confidence = normalizeConfidence(bird.Confidence)
		bird.ImageQuality = max(0, min(10, bird.ImageQuality))
		if err := c.validate.Struct(bird); err != nil {
			logging.WarnWithContext(c.logger, "dropping unusable bird from identification", "vision_bird_invalid",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "model omitted the species name"),
				logging.String(logging.FieldImpact, "bird not recorded for this frame"),
			)
			continue
		}
		cleaned = append(cleaned, bird)
	}
	return cleaned
}

// normalizeConfidence maps fractional confidences onto 0..100 and clamps.
func normalizeConfidence(value float64) float64 {
	if value > 0 && value < 1 {
		value *= 100
	}
	return max(0, min(100, value))
}

func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s is empty", path)
	}
	return data, nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

func textPart(text string) contentPart {
	return contentPart{Type: "text", Text: text}
}

func imagePart(image []byte, detail Detail) contentPart {
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return contentPart{
		Type: "image_url",
		ImageURL: &imageURL{
			URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image),
			Detail: string(detail),
		},
	}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *providerError `json:"error"`
}

func estimateTokens(opCfg OperationConfig, parts []contentPart) int {
	total := opCfg.MaxTokens
	for _, part := range parts {
		if part.ImageURL == nil {
			total += len(part.Text) / 4
			continue
		}
		if Detail(part.ImageURL.Detail) == DetailLow {
			total += lowDetailImageTokens
		} else {
			total += highDetailImageTokens
		}
	}
	return total
}

// complete sends one paced, retried chat completion and returns the message content.
func (c *Client) complete(ctx context.Context, op Operation, opCfg OperationConfig, parts []contentPart) (string, error) {
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "vision", string(op), "api key required", nil)
	}
	payload := chatCompletionRequest{
		Model:          c.cfg.Model,
		Messages:       []chatMessage{{Role: "user", Content: parts}},
		MaxTokens:      opCfg.MaxTokens,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("vision request: encode body: %w", err)
	}
	estimate := estimateTokens(opCfg, parts)

	start := time.Now()
	policy := &retryAfterBackOff{BackOff: newExponentialBackOff(c.cfg.RetryDelay, c.cfg.BackoffMultiplier)}
	attempts := 0
	var content string
	operation := func() error {
		attempts++
		waitStart := time.Now()
		reservation, err := c.pacer.acquire(ctx, estimate)
		c.metrics.ObserveThrottleWait(time.Since(waitStart))
		if err != nil {
			return backoff.Permanent(err)
		}
		completion, err := c.send(ctx, encoded)
		if completion.Usage != nil {
			c.pacer.window.reconcile(reservation, completion.Usage.TotalTokens)
			c.metrics.AddTokens(string(op), completion.Usage.TotalTokens)
		}
		if err == nil {
			content, err = extractContent(op, completion)
			if err == nil {
				return nil
			}
		}
		if !isRetryable(ctx, err) {
			return backoff.Permanent(err)
		}
		policy.hint(retryAfterOf(err))
		return err
	}
	notify := func(err error, delay time.Duration) {
		c.metrics.RecordRetry(string(op))
		logging.WarnWithContext(c.logger, "vision request retry", "vision_retry",
			logging.String("operation", string(op)),
			logging.Int("attempt", attempts),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "transient provider failure; retrying with backoff"),
			logging.String(logging.FieldImpact, "request delayed"),
		)
	}
	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(c.cfg.MaxRetries, 0))), ctx)
	err = backoff.RetryNotify(operation, retryPolicy, notify)
	c.metrics.RecordRequest(string(op), time.Since(start), err)
	if err != nil {
		return "", classifyFailure(ctx, op, attempts, err)
	}
	return content, nil
}

func classifyFailure(ctx context.Context, op Operation, attempts int, err error) error {
	msg := fmt.Sprintf("failed after %d attempt(s)", attempts)
	switch {
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrCancelled, "vision", string(op), msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "vision", string(op), msg, err)
	case isRetryable(ctx, err):
		return services.Wrap(services.ErrTransient, "vision", string(op), msg, err)
	default:
		return services.Wrap(services.ErrExternalTool, "vision", string(op), msg, err)
	}
}

func extractContent(op Operation, completion chatCompletionResponse) (string, error) {
	if len(completion.Choices) == 0 {
		return "", &emptyContentError{Op: op}
	}
	choice := completion.Choices[0]
	if content := strings.TrimSpace(choice.Message.Content); content != "" {
		return content, nil
	}
	return "", &emptyContentError{Op: op, FinishReason: choice.FinishReason, Refusal: choice.Message.Refusal}
}

func (c *Client) send(ctx context.Context, body []byte) (chatCompletionResponse, error) {
	var completion chatCompletionResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return completion, fmt.Errorf("vision request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, fmt.Errorf("vision request: http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, fmt.Errorf("vision request: read body: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &httpStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		statusErr.RetryAfter, _ = parseRetryAfter(resp.Header.Get("Retry-After"))
		var envelope chatCompletionResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			statusErr.ProviderType = envelope.Error.kind()
		}
		return completion, statusErr
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		return completion, fmt.Errorf("vision request: decode response: %w", err)
	}
	if completion.Error != nil {
		return completion, completion.Error
	}
	return completion, nil
}
