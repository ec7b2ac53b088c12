package summarizer

import "time"

// Observer receives pipeline measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Summarized reports the outcome of one Summarize call with a Status label.
	Summarized(status string, d time.Duration)
	StageDone(stage string, d time.Duration, err error)
	InputTokens(n int)
	SessionInflight(session string, delta int)
}

type NopObserver struct{}

func (NopObserver) Summarized(string, time.Duration)       {}
func (NopObserver) StageDone(string, time.Duration, error) {}
func (NopObserver) InputTokens(int)                        {}
func (NopObserver) SessionInflight(string, int)            {}
