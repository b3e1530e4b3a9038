package model

import "fmt"

// FetchError reports a failed source fetch. The source is skipped for the run.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching source %q: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StoreError reports a fingerprint store failure for a single item.
type StoreError struct {
	ItemID string
	Op     string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("fingerprint %s for %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AIError reports a failed categorization call for a whole batch.
type AIError struct {
	Batch int
	Err   error
}

func (e *AIError) Error() string {
	return fmt.Sprintf("categorizing batch %d: %v", e.Batch, e.Err)
}

func (e *AIError) Unwrap() error { return e.Err }

// DeliveryError reports a failed delivery to one sink.
type DeliveryError struct {
	Sink string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering to %s: %v", e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
