package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/service"

	"github.com/google/uuid"
)

// Completer is the part of the workflow service the coordinator drives.
type Completer interface {
	CompleteStep(ctx context.Context, assignmentID uuid.UUID, actor string, notes *string) (*service.Outcome, error)
}

// Coordinator turns completion requests from the event bus (webhooks,
// email replies, other services) into step completions.
type Coordinator struct {
	completer Completer
	eventBus  ports.EventBus
	logger    *slog.Logger
}

func NewCoordinator(completer Completer, bus ports.EventBus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		completer: completer,
		eventBus:  bus,
		logger:    logger.With("component", "coordinator"),
	}
}

// Start begins the listening loop and returns when ctx is done or the
// subscription closes. Call this in main.go as a goroutine.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("coordinator started, listening for completion requests")

	requests, err := c.eventBus.SubscribeToCompletionRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator shutting down")
			return nil

		case req, ok := <-requests:
			if !ok {
				c.logger.Info("completion request subscription closed")
				return nil
			}
			c.handleCompletionRequest(ctx, req)
		}
	}
}

func (c *Coordinator) handleCompletionRequest(ctx context.Context, req domain.CompletionRequest) {
	log := c.logger.With("assignment_id", req.AssignmentID, "actor", req.Actor)

	outcome, err := c.completer.CompleteStep(ctx, req.AssignmentID, req.Actor, req.Notes)
	if err != nil {
		log.Error("completion request failed", "error", err)
		return
	}
	if outcome.Status == service.OutcomeNoop {
		log.Info("completion request was a noop", "warning", outcome.Warning)
		return
	}
	log.Info("completion request applied", "outcome", outcome.Status)
}
