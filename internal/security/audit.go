// Package security provides the audit trail and input validation for order actions.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"stofina-realtime/internal/models"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// Order events
	AuditOrderSubmitted AuditEventType = "ORDER_SUBMITTED"
	AuditOrderRejected  AuditEventType = "ORDER_REJECTED"
	AuditOrderCancelled AuditEventType = "ORDER_CANCELLED"
	AuditValidation     AuditEventType = "VALIDATION_FAILED"

	// Stream events
	AuditStreamStatus AuditEventType = "STREAM_STATUS"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	AccountID string                 `json:"account_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// AuditLogger appends audit events as JSON lines to a rotated file. A nil
// *AuditLogger discards every event.
type AuditLogger struct {
	writer    *lumberjack.Logger
	mu        sync.Mutex
	sessionID string
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() AuditConfig {
	home, _ := os.UserHomeDir()
	return AuditConfig{
		LogDir:     filepath.Join(home, ".config", "stofina", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: uuid.NewString(),
	}, nil
}

// SessionID identifies this process in every event it writes.
func (al *AuditLogger) SessionID() string {
	if al == nil {
		return ""
	}
	return al.sessionID
}

type requestIDKey struct{}

// WithRequestID attaches a request id that Log copies into the event.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Log logs an audit event.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	event.Timestamp = time.Now().UTC()
	event.SessionID = al.sessionID
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		event.RequestID = reqID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

func orderDetails(req models.OrderRequest) map[string]interface{} {
	details := map[string]interface{}{
		"order_type":      string(req.OrderType),
		"quantity":        req.Quantity,
		"client_order_id": req.ClientOrderID,
	}
	if req.Price != nil {
		details["price"] = *req.Price
	}
	if req.StopPrice != nil {
		details["stop_price"] = *req.StopPrice
	}
	if req.IsScheduled {
		details["scheduled_time"] = req.ScheduledTime
	}
	return details
}

// LogOrderSubmitted logs an order accepted by the order service.
func (al *AuditLogger) LogOrderSubmitted(ctx context.Context, req models.OrderRequest, resp *models.OrderResponse) error {
	event := AuditEvent{
		EventType: AuditOrderSubmitted,
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Action:    string(req.OrderType),
		Success:   true,
		Details:   orderDetails(req),
	}
	if resp != nil {
		event.OrderID = resp.OrderID
		event.Details["status"] = resp.Status
	}
	return al.Log(ctx, event)
}

// LogOrderRejected logs an order refused by the order service or the network.
func (al *AuditLogger) LogOrderRejected(ctx context.Context, req models.OrderRequest, code, reason string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditOrderRejected,
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Action:    string(req.OrderType),
		Code:      code,
		Success:   false,
		ErrorMsg:  reason,
		Details:   orderDetails(req),
	})
}

// LogOrderCancelled logs an order cancellation.
func (al *AuditLogger) LogOrderCancelled(ctx context.Context, orderID string, success bool, errorMsg string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditOrderCancelled,
		OrderID:   orderID,
		Success:   success,
		ErrorMsg:  errorMsg,
	})
}

// LogValidationFailed logs a form rejected before it reached the order service.
func (al *AuditLogger) LogValidationFailed(ctx context.Context, accountID, symbol, code, reason string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditValidation,
		AccountID: accountID,
		Symbol:    symbol,
		Code:      code,
		Success:   false,
		ErrorMsg:  reason,
	})
}

// LogStreamStatus logs a stream connection status transition.
func (al *AuditLogger) LogStreamStatus(ctx context.Context, stream models.StreamKind, from, to models.ConnectionStatus, cause error) error {
	event := AuditEvent{
		EventType: AuditStreamStatus,
		Action:    string(stream),
		Success:   to != models.StatusError,
		Details: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		},
	}
	if cause != nil {
		event.ErrorMsg = cause.Error()
	}
	return al.Log(ctx, event)
}

// Close closes the audit logger.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	return al.writer.Close()
}
