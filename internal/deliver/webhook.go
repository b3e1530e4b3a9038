package deliver

import (
	"context"
	"errors"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

// WebhookSink POSTs the report as JSON to an arbitrary endpoint.
type WebhookSink struct {
	URL string
	poster
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{URL: url, poster: newPoster()}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Deliver(ctx context.Context, r *model.WeeklyReport) error {
	if w.URL == "" {
		return errors.New("webhook URL not configured")
	}
	return w.postJSON(ctx, w.URL, nil, r)
}
