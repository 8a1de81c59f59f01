package worker

import (
	"context"

	"showledger/internal/broker"
	"showledger/internal/models"
	"showledger/internal/util"

	"go.uber.org/zap"
)

// RefreshRunner is the piece of the comp service the worker drives
type RefreshRunner interface {
	HandleRefreshRequested(ctx context.Context, event *models.CompRefreshRequestedEvent) error
}

// CompRefreshWorker runs queued bulk comp refreshes in the background
type CompRefreshWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewCompRefreshWorker creates a new comp refresh worker
func NewCompRefreshWorker(consumer *broker.Consumer, runner RefreshRunner) *CompRefreshWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnCompRefreshRequested(runner.HandleRefreshRequested)

	return &CompRefreshWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.ComponentLogger("comp-refresh-worker"),
	}
}

// Start blocks consuming refresh requests until ctx is cancelled
func (w *CompRefreshWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting comp refresh worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CompRefreshWorker) Stop() error {
	w.logger.Info("Stopping comp refresh worker")
	return w.consumer.Close()
}
