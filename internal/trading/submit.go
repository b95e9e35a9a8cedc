package trading

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"stofina-realtime/internal/broker"
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/logging"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/security"
	"stofina-realtime/internal/store"
)

// SubmitResult is the outcome of one submission. Failures are reported here, never
// returned as errors or panics.
type SubmitResult struct {
	Success    bool
	Request    models.OrderRequest
	Order      *models.OrderResponse
	Validation ValidationResult
	Error      *apperrors.SubmissionError
}

// SubmitterConfig wires a Submitter. Journal and Audit are optional.
type SubmitterConfig struct {
	Gateway   broker.OrderGateway
	Validator *Validator
	Builder   RequestBuilder
	Journal   *store.Journal
	Audit     *security.AuditLogger
	Logger    zerolog.Logger
}

// Submitter runs the validate-then-submit pipeline for order forms.
type Submitter struct {
	gateway   broker.OrderGateway
	validator *Validator
	builder   RequestBuilder
	journal   *store.Journal
	audit     *security.AuditLogger
	logger    zerolog.Logger

	inFlight atomic.Bool
}

// NewSubmitter creates a submitter.
func NewSubmitter(cfg SubmitterConfig) *Submitter {
	builder := cfg.Builder
	if builder.Schedule == nil {
		builder.Schedule = cfg.Validator.Schedule()
	}
	if builder.Clock == nil {
		builder.Clock = cfg.Validator.clock
	}
	return &Submitter{
		gateway:   cfg.Gateway,
		validator: cfg.Validator,
		builder:   builder,
		journal:   cfg.Journal,
		audit:     cfg.Audit,
		logger:    logging.WithOperation(cfg.Logger, "submit"),
	}
}

// InFlight reports whether a submission is running.
func (s *Submitter) InFlight() bool {
	return s.inFlight.Load()
}

// Preview validates form and builds the request it would send, without calling the
// order service.
func (s *Submitter) Preview(form *OrderForm) SubmitResult {
	res, quote := s.validator.validate(form)
	if !res.Valid {
		return SubmitResult{Validation: res, Error: apperrors.NewSubmissionError(res.Code, res.Message, res.Err())}
	}
	req, err := s.builder.BuildRequest(form, quote)
	if err != nil {
		return SubmitResult{Validation: res, Error: ClassifyError(err)}
	}
	return SubmitResult{Success: true, Request: req, Validation: res}
}

// Submit validates form locally and on the server, then places the order. The form is
// reset only when the order service accepts the order. A second call while one is
// running is refused.
func (s *Submitter) Submit(ctx context.Context, form *OrderForm) SubmitResult {
	if !s.inFlight.CompareAndSwap(false, true) {
		return SubmitResult{Error: apperrors.NewSubmissionError(CodeSubmissionInProgress,
			"an order is already being submitted", apperrors.ErrSubmissionInProgress)}
	}
	defer s.inFlight.Store(false)

	preview := s.Preview(form)
	if !preview.Success {
		if !preview.Validation.Valid {
			s.logger.Info().
				Str("code", preview.Validation.Code).
				Strs("checks_failed", preview.Validation.ChecksFailed).
				Msg("order form rejected")
			s.auditErr(s.audit.LogValidationFailed(ctx, form.AccountID, store.NormalizeSymbol(form.Symbol),
				preview.Validation.Code, preview.Validation.Message))
		}
		return preview
	}

	req := preview.Request
	ctx = security.WithRequestID(ctx, req.ClientOrderID)
	logger := logging.WithSymbol(s.logger, req.Symbol)

	check, err := s.gateway.Validate(ctx, req)
	if err != nil {
		return s.reject(ctx, logger, preview, ClassifyError(err))
	}
	if check != nil && !check.Valid {
		msg := check.Message
		if msg == "" {
			msg = "order could not be validated"
		}
		return s.reject(ctx, logger, preview, apperrors.NewSubmissionError(CodeValidationFailed, msg, apperrors.ErrInvalidOrder))
	}

	resp, err := s.gateway.Submit(ctx, req)
	if err != nil {
		return s.reject(ctx, logger, preview, ClassifyError(err))
	}

	status := "SUBMITTED"
	orderID := ""
	if resp != nil {
		orderID = resp.OrderID
		if resp.Status != "" {
			status = resp.Status
		}
	}
	logging.LogOrder(logger, orderID, req.Symbol, string(req.OrderType), status)
	s.record(ctx, req, orderID, status, "", "")
	s.auditErr(s.audit.LogOrderSubmitted(ctx, req, resp))

	form.Reset()

	preview.Order = resp
	return preview
}

// Cancel cancels an open order and records the outcome in the audit trail.
func (s *Submitter) Cancel(ctx context.Context, orderID string) *apperrors.SubmissionError {
	err := s.gateway.Cancel(ctx, orderID)
	subErr := ClassifyError(err)
	msg := ""
	if subErr != nil {
		msg = subErr.Message
	}
	s.auditErr(s.audit.LogOrderCancelled(ctx, orderID, err == nil, msg))
	if subErr != nil {
		s.logger.Warn().Err(err).Str("order_id", orderID).Str("code", subErr.Code).Msg("cancel failed")
	}
	return subErr
}

func (s *Submitter) reject(ctx context.Context, logger zerolog.Logger, res SubmitResult, subErr *apperrors.SubmissionError) SubmitResult {
	req := res.Request
	logger.Warn().
		Str("client_order_id", req.ClientOrderID).
		Str("code", subErr.Code).
		Str("reason", subErr.Message).
		Msg("order rejected")
	s.record(ctx, req, "", "REJECTED", subErr.Code, subErr.Message)
	s.auditErr(s.audit.LogOrderRejected(ctx, req, subErr.Code, subErr.Message))

	res.Success = false
	res.Error = subErr
	return res
}

func (s *Submitter) record(ctx context.Context, req models.OrderRequest, orderID, status, code, msg string) {
	if s.journal == nil {
		return
	}
	rec := store.OrderRecord{
		ClientOrderID: req.ClientOrderID,
		OrderID:       orderID,
		AccountID:     req.AccountID,
		Symbol:        req.Symbol,
		OrderType:     req.OrderType,
		Quantity:      req.Quantity,
		ScheduledTime: req.ScheduledTime,
		Status:        status,
		ErrorCode:     code,
		Message:       msg,
		CreatedAt:     s.builder.now(),
	}
	if req.Price != nil {
		rec.Price = *req.Price
	}
	if req.StopPrice != nil {
		rec.StopPrice = *req.StopPrice
	}
	if err := s.journal.RecordOrder(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("client_order_id", req.ClientOrderID).Msg("failed to journal order")
	}
}

func (s *Submitter) auditErr(err error) {
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to write audit event")
	}
}
