package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

// Sink is a destination for the weekly report.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, r *model.WeeklyReport) error
}

// Result records the outcome of delivering to every sink.
type Result struct {
	Delivered []string
	Errors    []error
}

// AllFailed reports whether at least one sink was tried and none succeeded.
func (r *Result) AllFailed() bool {
	return len(r.Errors) > 0 && len(r.Delivered) == 0
}

// Warnings converts delivery errors into run warnings.
func (r *Result) Warnings() []model.Warning {
	var ws []model.Warning
	for _, err := range r.Errors {
		w := model.Warning{Stage: "deliver", Err: err}
		if de, ok := err.(*model.DeliveryError); ok {
			w.Subject = de.Sink
			w.Err = de.Err
		}
		ws = append(ws, w)
	}
	return ws
}

// Deliver sends the report to every sink. A failing sink does not stop the
// remaining ones.
func Deliver(ctx context.Context, sinks []Sink, r *model.WeeklyReport) *Result {
	res := &Result{}
	for _, s := range sinks {
		if err := s.Deliver(ctx, r); err != nil {
			logging.Log.WithField("sink", s.Name()).Errorf("Delivery failed: %v", err)
			res.Errors = append(res.Errors, &model.DeliveryError{Sink: s.Name(), Err: err})
			continue
		}
		logging.Log.WithField("sink", s.Name()).Info("Report delivered")
		res.Delivered = append(res.Delivered, s.Name())
	}
	return res
}

// poster POSTs JSON payloads, retrying failed attempts with exponential
// backoff.
type poster struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
}

func newPoster() poster {
	return poster{
		client:   &http.Client{Timeout: 30 * time.Second},
		attempts: 3,
		backoff:  time.Second,
	}
}

func (p poster) postJSON(ctx context.Context, url string, headers map[string]string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	attempts := max(p.attempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := p.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = p.post(ctx, url, headers, data)
		if lastErr == nil {
			return nil
		}
		logging.Log.Warnf("POST attempt %d/%d failed: %v", attempt+1, attempts, lastErr)
	}
	return lastErr
}

func (p poster) post(ctx context.Context, url string, headers map[string]string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
