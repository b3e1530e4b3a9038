package collect

import (
	"context"

	"github.com/TobiSchelling/CompetitorWatch/internal/config"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

// TwitterAdapter is a placeholder: the platform offers no unauthenticated
// access, so every fetch succeeds with no entries.
type TwitterAdapter struct{}

// NewTwitterAdapter creates a new TwitterAdapter.
func NewTwitterAdapter() *TwitterAdapter {
	return &TwitterAdapter{}
}

func (a *TwitterAdapter) Fetch(_ context.Context, src config.Source) (*model.RawFetchResult, error) {
	logging.Log.WithField("source", src.Name).Debug("Twitter collection not available, returning no entries")
	return &model.RawFetchResult{URL: src.URL}, nil
}
