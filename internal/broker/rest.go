package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/logging"
)

// RESTConfig configures a backend REST client.
type RESTConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Token             TokenSource
}

// restClient is the shared HTTP plumbing of the order and market clients.
type restClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	token   TokenSource
	logger  zerolog.Logger
}

func newRESTClient(cfg RESTConfig, logger zerolog.Logger) *restClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond) + 1
	}
	return &restClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		token:   cfg.Token,
		logger:  logger,
	}
}

// errorBody is the error envelope of the backend services.
type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do sends a JSON request and decodes a JSON response into out (when non-nil).
// Non-2xx responses become *errors.APIError.
func (c *restClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	logging.LogAPICall(c.logger, method, path, time.Since(start), err)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func parseAPIError(status int, data []byte) *apperrors.APIError {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)

	code := eb.Code
	if code == "" && isErrorCode(eb.Error) {
		code = eb.Error
	}
	msg := eb.Message
	if msg == "" && eb.Error != "" && eb.Error != code {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	apiErr := apperrors.NewAPIError(status, code, msg)
	switch {
	case status == http.StatusUnauthorized:
		apiErr.Err = apperrors.ErrSessionExpired
	case code == "INSUFFICIENT_BALANCE":
		apiErr.Err = apperrors.ErrInsufficientBalance
	case code == "MARKET_CLOSED":
		apiErr.Err = apperrors.ErrMarketClosed
	case code == "INVALID_SYMBOL":
		apiErr.Err = apperrors.ErrInvalidSymbol
	}
	return apiErr
}

// isErrorCode reports whether s looks like an UPPER_SNAKE error code.
func isErrorCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '_' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
