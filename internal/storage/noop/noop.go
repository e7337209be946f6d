// Package noop provides sink implementations that discard audit writes,
// for local runs where the audit trail is switched off.
package noop

import (
	"context"

	"github.com/orderflow-io/pipeline/internal/processor"
)

type ProcessingLog struct{}

func (ProcessingLog) Write(ctx context.Context, entry processor.ProcessingLogEntry) error {
	return nil
}

type EventHistory struct{}

func (EventHistory) Append(ctx context.Context, entry processor.EventHistoryEntry) error {
	return nil
}
