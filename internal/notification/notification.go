package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// KindTransactionCompleted is emitted when a transaction reaches COMPLETED.
	KindTransactionCompleted = "transaction.completed"
	// KindTransactionFailed is emitted when a transaction reaches FAILED.
	KindTransactionFailed = "transaction.failed"
)

// Message describes a terminal transaction event.
type Message struct {
	Kind          string          `json:"kind"`
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	SenderID      string          `json:"sender_id,omitempty"`
	ReceiverID    string          `json:"receiver_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("transaction_id", message.TransactionID),
		slog.String("type", message.Type),
		slog.String("amount", message.Amount.StringFixed(2)),
	)
	return nil
}
