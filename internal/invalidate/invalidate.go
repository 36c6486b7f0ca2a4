// Package invalidate tells the page renderer which cached pages of an
// organization are stale after its variables changed.
package invalidate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one webhook call.
const DefaultTimeout = 10 * time.Second

// Invalidator is signalled after an organization's variables change. It
// never blocks the caller and never fails it.
type Invalidator interface {
	Invalidate(orgID string, paths []string)
}

// Nop discards every signal.
type Nop struct{}

func (Nop) Invalidate(string, []string) {}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	OrgID string    `json:"org_id"`
	Paths []string  `json:"paths"`
	At    time.Time `json:"at"`
}

// Webhook posts each signal to a URL in the background. When a secret is
// set the body is signed with HMAC-SHA256 in the X-Almanac-Signature
// header.
type Webhook struct {
	url        string
	secret     string
	httpClient *http.Client
	log        *zap.Logger
	wg         sync.WaitGroup
}

// NewWebhook creates a Webhook. log may be nil.
func NewWebhook(url, secret string, timeout time.Duration, log *zap.Logger) *Webhook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Webhook{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Invalidate posts the signal asynchronously. Failures are logged.
func (w *Webhook) Invalidate(orgID string, paths []string) {
	if paths == nil {
		paths = []string{}
	}
	p := Payload{OrgID: orgID, Paths: paths, At: time.Now()}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.post(context.Background(), p); err != nil {
			w.log.Warn("cache invalidation failed", zap.String("org", orgID), zap.Error(err))
		}
	}()
}

// Wait blocks until every in-flight signal has been delivered or failed.
func (w *Webhook) Wait() {
	w.wg.Wait()
}

func (w *Webhook) post(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("invalidate: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalidate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set("X-Almanac-Signature", Sign(w.secret, body))
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invalidate: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("invalidate: post: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Recorder keeps every signal in memory.
type Recorder struct {
	mu    sync.Mutex
	Calls []Payload
}

func (r *Recorder) Invalidate(orgID string, paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, Payload{OrgID: orgID, Paths: paths, At: time.Now()})
}

// Count returns how many signals were recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
