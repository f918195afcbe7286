package cron

import (
	"context"
	"time"

	"github.com/cortexd/runtime/internal/config"
)

// JobType identifies the handler for a cron job.
type JobType string

const (
	JobTypeDeepSynthesis JobType = "deep_synthesis"
)

// Schedule represents a parsed schedule.
type Schedule struct {
	Kind     string
	CronExpr string
	Every    time.Duration
	At       time.Time
	Timezone string
}

// Job represents a scheduled job.
type Job struct {
	ID       string
	Name     string
	Type     JobType
	Enabled  bool
	Schedule Schedule

	DeepSynthesis *config.CronDeepSynthesisConfig
	Retry         config.CronRetryConfig

	NextRun    time.Time
	LastRun    time.Time
	LastError  string
	RetryCount int
}

// SynthesisRunner triggers deep memory synthesis, either for one
// entity/user pair or across every session currently warm in hot
// memory when both are empty.
type SynthesisRunner interface {
	RunDeepSynthesis(ctx context.Context, entityID, userID string) (int, error)
}

// SynthesisRunnerFunc adapts a function to a SynthesisRunner.
type SynthesisRunnerFunc func(ctx context.Context, entityID, userID string) (int, error)

// RunDeepSynthesis executes the synthesis runner function.
func (f SynthesisRunnerFunc) RunDeepSynthesis(ctx context.Context, entityID, userID string) (int, error) {
	return f(ctx, entityID, userID)
}
