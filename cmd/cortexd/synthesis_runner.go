package main

import (
	"context"

	"github.com/cortexd/runtime/internal/continuity"
	"github.com/cortexd/runtime/internal/continuity/hotmem"
)

// synthesisRunner adapts the continuity service's fire-and-forget
// RunDeepSynthesis to cron.SynthesisRunner's (count, error) shape. An
// empty entityID fans the pass out across every (entityID, userID)
// pair hot memory currently tracks as active, since RunDeepSynthesis
// itself has no notion of "every active session" — that bookkeeping
// lives in hotmem.Store.ListActiveSessions.
type synthesisRunner struct {
	service *continuity.Service
	hot     *hotmem.Store
}

func (r *synthesisRunner) RunDeepSynthesis(ctx context.Context, entityID, userID string) (int, error) {
	if entityID != "" {
		r.service.RunDeepSynthesis(ctx, entityID, userID)
		return 1, nil
	}

	sessions, err := r.hot.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}
	for _, sess := range sessions {
		r.service.RunDeepSynthesis(ctx, sess.EntityID, sess.UserID)
	}
	return len(sessions), nil
}
