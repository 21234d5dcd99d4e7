package vision_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"birdwatcher/internal/services"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/testsupport"
)

func writeCompletion(t *testing.T, w http.ResponseWriter, content string, totalTokens int) {
	t.Helper()
	payload := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"total_tokens": totalTokens},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func newClient(t *testing.T, url string, mutate func(*vision.Config)) *vision.Client {
	t.Helper()
	cfg := vision.ConfigFromSettings(testsupport.NewConfig(t, testsupport.WithVisionEndpoint(url)))
	if mutate != nil {
		mutate(&cfg)
	}
	return vision.NewClient(cfg)
}

func frame(t *testing.T, name string, pattern testsupport.Pattern) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	testsupport.WriteJPEG(t, path, 32, pattern)
	return path
}

type capturedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL *struct {
				URL    string `json:"url"`
				Detail string `json:"detail"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
}

func TestDetectSendsLowDetailRequestAndCaches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || req.MaxTokens != 180 || req.ResponseFormat["type"] != "json_object" {
			t.Errorf("unexpected request envelope: %+v", req)
		}
		parts := req.Messages[0].Content
		if len(parts) != 2 || parts[1].ImageURL == nil {
			t.Fatalf("expected text and image parts, got %+v", parts)
		}
		if parts[1].ImageURL.Detail != "low" || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
			t.Errorf("unexpected image part: %+v", parts[1].ImageURL)
		}
		writeCompletion(t, w, `{"birds_detected": 2, "confidence": 0.9}`, 120)
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	path := frame(t, "a.jpg", testsupport.Checker(4, 10, 240))

	result, err := client.Detect(context.Background(), path)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if result.BirdsDetected != 2 || result.Confidence != 90 {
		t.Fatalf("unexpected detect result: %+v", result)
	}

	if _, err := client.Detect(context.Background(), path); err != nil {
		t.Fatalf("second Detect returned error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected cached second call, got %d requests", calls.Load())
	}
	stats := client.CacheStats()
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected cache stats: %+v", stats)
	}
	if stats.TokensUsed != 120 {
		t.Fatalf("expected reservation reconciled to 120 tokens, got %d", stats.TokensUsed)
	}

	client.ClearCache()
	if _, err := client.Detect(context.Background(), path); err != nil {
		t.Fatalf("Detect after clear returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a new request after clearing the cache, got %d", calls.Load())
	}
}

func TestIdentifyHandlesCodeFenceAndDropsNamelessBirds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if detail := req.Messages[0].Content[1].ImageURL.Detail; detail != "low" {
			t.Errorf("expected requested low detail, got %q", detail)
		}
		content := "```json\n" + `{"birds_detected": 2, "birds": [
			{"species": "Cardinalis cardinalis", "common_name": "Northern Cardinal", "gender": "Male", "features": "red crest", "image_quality": 14, "confidence": 92},
			{"species": "", "common_name": "mystery", "confidence": 40}
		]}` + "\n```"
		writeCompletion(t, w, content, 300)
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	result, err := client.Identify(context.Background(), frame(t, "b.jpg", testsupport.Solid(120)), vision.DetailLow)
	if err != nil {
		t.Fatalf("Identify returned error: %v", err)
	}
	if len(result.Birds) != 1 {
		t.Fatalf("expected nameless bird dropped, got %+v", result.Birds)
	}
	bird := result.Birds[0]
	if bird.Gender != "male" || bird.ImageQuality != 10 || bird.Confidence != 92 || bird.CommonName != "Northern Cardinal" {
		t.Fatalf("unexpected bird: %+v", bird)
	}
}

func TestCompareSendsBothImagesInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		parts := req.Messages[0].Content
		if len(parts) != 5 || parts[0].Text != "Image 1:" || parts[2].Text != "Image 2:" {
			t.Errorf("unexpected compare layout: %+v", parts)
		}
		if parts[1].ImageURL.Detail != "high" || req.MaxTokens != 500 {
			t.Errorf("expected high detail and 500 tokens, got %q/%d", parts[1].ImageURL.Detail, req.MaxTokens)
		}
		writeCompletion(t, w, `{"is_same_bird": true, "confidence": 88, "reasoning": " same notch ", "matching_features": ["notch"], "differences_noted": []}`, 900)
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	result, err := client.Compare(context.Background(),
		frame(t, "a.jpg", testsupport.Solid(100)),
		frame(t, "b.jpg", testsupport.Solid(200)))
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if !result.IsSameBird || result.Confidence != 88 || result.Reasoning != "same notch" || len(result.MatchingFeatures) != 1 {
		t.Fatalf("unexpected compare result: %+v", result)
	}
}

func TestRetriesTransientStatusThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
			return
		}
		writeCompletion(t, w, `{"birds_detected": 0, "confidence": 0}`, 50)
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	result, err := client.Detect(context.Background(), frame(t, "c.jpg", testsupport.Solid(90)))
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if result.BirdsDetected != 0 || calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls result %+v", calls.Load(), result)
	}
}

func TestRetriesProviderServerErrorType(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream","type":"server_error"}}`))
			return
		}
		writeCompletion(t, w, `{"birds_detected": 1, "confidence": 70}`, 50)
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	if _, err := client.Detect(context.Background(), frame(t, "d.jpg", testsupport.Solid(90))); err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected provider server_error to be retried, got %d calls", calls.Load())
	}
}

func TestNonRetryableFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	_, err := client.Detect(context.Background(), frame(t, "e.jpg", testsupport.Solid(90)))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestExhaustedRetriesReturnLastError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
	}))
	defer server.Close()

	client := newClient(t, server.URL, func(cfg *vision.Config) { cfg.MaxRetries = 2 })
	_, err := client.Detect(context.Background(), frame(t, "f.jpg", testsupport.Solid(90)))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) || !strings.Contains(err.Error(), "http 503") {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected initial attempt plus two retries, got %d", calls.Load())
	}
}

func TestMissingAPIKeyIsConfigurationError(t *testing.T) {
	client := vision.NewClient(vision.Config{BaseURL: "http://127.0.0.1:0"})
	_, err := client.Detect(context.Background(), frame(t, "g.jpg", testsupport.Solid(90)))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestMissingImageIsValidationError(t *testing.T) {
	client := vision.NewClient(vision.Config{APIKey: "k"})
	_, err := client.Identify(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHealthCheckCodeFence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(t, w, "```json\n{\"ok\":true}\n```", 5)
	}))
	defer server.Close()

	if err := newClient(t, server.URL, nil).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestDecodeJSONExtractsObjectFromProse(t *testing.T) {
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := vision.DecodeJSON(`Sure! {"ok": true} Hope that helps.`, &parsed); err != nil || !parsed.OK {
		t.Fatalf("DecodeJSON failed: %v %+v", err, parsed)
	}
	if err := vision.DecodeJSON("   ", &parsed); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
