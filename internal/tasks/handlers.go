// Package tasks provides local fulfillment handlers for intents that are
// not delegated to a specialist agent.
package tasks

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/engine"
	"github.com/tributary-ai/intent-dispatch/internal/types"
)

// Handlers bundles the built-in local handlers keyed by intent.
type Handlers struct {
	logger       *logrus.Logger
	ticketSerial atomic.Int64
}

// NewHandlers creates the built-in handler set.
func NewHandlers(logger *logrus.Logger) *Handlers {
	return &Handlers{logger: logger}
}

// RegisterAll binds every built-in handler to the engine. Agents configured
// for the same intents take precedence; these run only when no agent
// advertises the capability.
func (h *Handlers) RegisterAll(e *engine.Engine) {
	e.RegisterHandler("create_ticket", engine.TaskHandlerFunc(h.createTicket))
	e.RegisterHandler("ticket_general", engine.TaskHandlerFunc(h.createTicket))
	e.RegisterHandler("password_reset", engine.TaskHandlerFunc(h.passwordReset))
	e.RegisterHandler("order_status", engine.TaskHandlerFunc(h.orderStatus))
	e.RegisterHandler("cancel_subscription", engine.TaskHandlerFunc(h.cancelSubscription))
}

func (h *Handlers) createTicket(ctx context.Context, intent string, u types.Utterance) (string, error) {
	serial := h.ticketSerial.Add(1)
	ticketID := fmt.Sprintf("TCK-%06d", serial)

	h.logger.WithFields(logrus.Fields{
		"ticket":  ticketID,
		"session": u.SessionID,
	}).Info("Support ticket created")

	return fmt.Sprintf("Support ticket %s has been created. You'll receive updates by email.", ticketID), nil
}

func (h *Handlers) passwordReset(ctx context.Context, intent string, u types.Utterance) (string, error) {
	return "A password reset link has been sent to the email address on your account. It expires in 30 minutes.", nil
}

func (h *Handlers) orderStatus(ctx context.Context, intent string, u types.Utterance) (string, error) {
	return "To check your order, open the Orders page in your account or reply with your order number.", nil
}

func (h *Handlers) cancelSubscription(ctx context.Context, intent string, u types.Utterance) (string, error) {
	return "Your cancellation request has been logged. A confirmation will follow within 24 hours.", nil
}
