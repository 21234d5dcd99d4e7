// Package vision wraps an OpenAI-compatible multimodal chat endpoint with the
// three calls the pipeline needs: a cheap bird presence check, full
// identification and pairwise individual comparison.
//
// Each Client owns a content-addressed response cache (TTL plus an LRU entry
// bound), a request pacer that spaces calls by a minimum interval and keeps a
// sliding one-minute token budget, and exponential-backoff retries for
// transient failures. Stages depend on the Service interface so tests can
// substitute fakes.
package vision
