package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Rate-limited HTTPS client to the map-annotation API
 *		(C7).
 *
 *------------------------------------------------------------------*/

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// PublishResultKind tags the outcome of a publish attempt.
type PublishResultKind int

const (
	PublishOK PublishResultKind = iota
	PublishTransientFailure
	PublishPermanentFailure
)

// PublishResult is returned by Publisher.Publish.
type PublishResult struct {
	Kind        PublishResultKind
	UpstreamID  int64
	UpstreamURL string
	Tag         string
}

const (
	publishTimeout  = 10 * time.Second
	dryRunURLFormat = "https://example.invalid/note/%d"
)

// Publisher is the C7 contract.
type Publisher struct {
	Endpoint    string
	Client      *http.Client
	RateLimit   time.Duration
	DryRun      bool
	Attribution string

	mu       sync.Mutex
	lastSend time.Time

	onSuccess func() // called once per successful round-trip, e.g. Clock sync notification
}

// NewPublisher returns a Publisher posting to endpoint, spacing
// successive publishes by at least rateLimit.
func NewPublisher(endpoint string, rateLimit time.Duration, dryRun bool) *Publisher {
	return &Publisher{
		Endpoint:    endpoint,
		Client:      &http.Client{Timeout: publishTimeout},
		RateLimit:   rateLimit,
		DryRun:      dryRun,
		Attribution: "\n\n(via meshgate packet-radio relay)",
	}
}

// OnSuccess registers a callback invoked after every successful publish
// round trip (used to drive the Clock's non-daemon sync fallback).
func (p *Publisher) OnSuccess(f func()) {
	p.onSuccess = f
}

// attributionLines maps a locale hint to its attribution suffix; an
// unrecognized or empty hint falls back to English.
var attributionLines = map[string]string{
	"en": "\n\n(via meshgate packet-radio relay)",
	"es": "\n\n(a través del repetidor de radio de paquetes meshgate)",
}

func (p *Publisher) attributionFor(localeHint string) string {
	if line, ok := attributionLines[localeHint]; ok {
		return line
	}

	if p.Attribution != "" {
		return p.Attribution
	}

	return attributionLines["en"]
}

type noteRequest struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Text string  `json:"text"`
}

type noteResponse struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Publish posts a note to the upstream API, enforcing the global rate
// limit internally so callers need not cooperate.
func (p *Publisher) Publish(ctx context.Context, lat, lon float64, text, localeHint string) PublishResult {
	p.waitForRateLimit()

	fullText := text + p.attributionFor(localeHint)

	if p.DryRun {
		return PublishResult{
			Kind:        PublishOK,
			UpstreamID:  dryRunHash(fullText),
			UpstreamURL: fmt.Sprintf(dryRunURLFormat, dryRunHash(fullText)),
		}
	}

	result := p.doPublish(ctx, lat, lon, fullText)

	if result.Kind == PublishOK && p.onSuccess != nil {
		p.onSuccess()
	}

	return result
}

func (p *Publisher) waitForRateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastSend.IsZero() {
		elapsed := time.Since(p.lastSend)
		if elapsed < p.RateLimit {
			time.Sleep(p.RateLimit - elapsed)
		}
	}

	p.lastSend = time.Now()
}

func (p *Publisher) doPublish(ctx context.Context, lat, lon float64, text string) PublishResult {
	body, err := json.Marshal(noteRequest{Lat: lat, Lon: lon, Text: text})
	if err != nil {
		return PublishResult{Kind: PublishPermanentFailure, Tag: "encode_error"}
	}

	reqCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return PublishResult{Kind: PublishPermanentFailure, Tag: "request_build_error"}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed noteResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return PublishResult{Kind: PublishTransientFailure, Tag: "bad_response_body"}
		}

		return PublishResult{Kind: PublishOK, UpstreamID: parsed.ID, UpstreamURL: parsed.URL}
	case resp.StatusCode == http.StatusTooManyRequests:
		return PublishResult{Kind: PublishTransientFailure, Tag: "rate_limited"}
	case resp.StatusCode >= 500:
		return PublishResult{Kind: PublishTransientFailure, Tag: fmt.Sprintf("http_%d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return PublishResult{Kind: PublishPermanentFailure, Tag: fmt.Sprintf("http_%d", resp.StatusCode)}
	default:
		return PublishResult{Kind: PublishTransientFailure, Tag: fmt.Sprintf("http_%d", resp.StatusCode)}
	}
}

// classifyTransportError maps network-level errors (timeout, connection
// refused, DNS failure) to TransientFailure, per §4.7.
func classifyTransportError(err error) PublishResult {
	tag := "network_error"

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		tag = "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		tag = "dns_failure"
	}

	return PublishResult{Kind: PublishTransientFailure, Tag: tag}
}

func dryRunHash(text string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))

	return int64(h.Sum64() & 0x7fffffffffffffff) //nolint:gosec
}
