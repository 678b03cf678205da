// Package audit fans out summaries of issued tokens to external sinks.
// Every sink is best effort; the orchestrator logs failures and moves on.
package audit

import (
	"context"
	"errors"

	"github.com/mintforge/mintd/core/mint"
)

// Noop discards every record.
type Noop struct{}

func (Noop) TokenIssued(context.Context, mint.TokenRecord) error { return nil }

// Multi delivers each record to every sink and joins the failures. A
// failing sink never blocks the others.
type Multi []mint.AuditSink

func (m Multi) TokenIssued(ctx context.Context, record mint.TokenRecord) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.TokenIssued(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
