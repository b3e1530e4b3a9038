package deliver

import (
	"os"

	"github.com/TobiSchelling/CompetitorWatch/internal/config"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
)

// SinksFromConfig builds the configured sinks. Sinks whose secrets are not
// set in the environment are skipped.
func SinksFromConfig(cfg config.Delivery) []Sink {
	var sinks []Sink

	if url := envOrEmpty(cfg.Slack.WebhookEnv); url != "" {
		sinks = append(sinks, NewSlackSink(url))
	}
	if cfg.Notion.PageID != "" {
		if token := envOrEmpty(cfg.Notion.TokenEnv); token != "" {
			sinks = append(sinks, NewNotionSink(token, cfg.Notion.PageID))
		} else {
			logging.Log.Warnf("Notion page configured but %s is not set", cfg.Notion.TokenEnv)
		}
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.Webhook.URL))
	}
	if cfg.File.Dir != "" {
		sinks = append(sinks, NewFileSink(cfg.File.Dir))
	}
	return sinks
}

// AlertSink returns the Slack sink used for failure alerts, or nil.
func AlertSink(cfg config.Delivery) *SlackSink {
	if url := envOrEmpty(cfg.Slack.WebhookEnv); url != "" {
		return NewSlackSink(url)
	}
	return nil
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
