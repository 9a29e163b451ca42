package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"attendance-sync-service/internal/attendance"
	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/logger"
)

const csrfHeader = "X-CSRFToken"

var (
	// ErrUnavailable wraps transport failures: the portal could not be reached.
	ErrUnavailable       = errors.New("portal unavailable")
	ErrMalformedResponse = errors.New("portal returned a malformed response")
)

// StatusError is a non-2xx response (or a redirect, usually to the login page).
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("portal responded %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("portal responded %d", e.Code)
}

// RejectedError is a successful HTTP exchange whose body says ok=false.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "portal rejected the request"
	}
	return "portal rejected the request: " + e.Message
}

// RejectionMessage extracts a server-supplied explanation from err, if any.
func RejectionMessage(err error) (string, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message, true
	}
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" && se.Code >= 400 && se.Code < 500 {
		return se.Message, true
	}
	return "", false
}

type ShiftResponse struct {
	OK      bool               `json:"ok"`
	Data    *attendance.Record `json:"data"`
	Created bool               `json:"created,omitempty"`
	Message string             `json:"message,omitempty"`
}

type HistoryResponse struct {
	OK            bool
	Data          []attendance.Record
	LastUpdatedAt *attendance.Timestamp
}

type historyWire struct {
	OK            bool                  `json:"ok"`
	Data          []json.RawMessage     `json:"data"`
	LastUpdatedAt *attendance.Timestamp `json:"last_updated_at"`
	Message       string                `json:"message"`
}

type Client struct {
	baseURL       string
	upsertPath    string
	historyPath   string
	healthPath    string
	sessionCookie string
	sessionID     string
	httpClient    *http.Client
}

func NewClient(cfg config.PortalConfig) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		upsertPath:    cfg.ShiftUpsertPath,
		historyPath:   cfg.HistoryPath,
		healthPath:    cfg.HealthPath,
		sessionCookie: cfg.SessionCookie,
		sessionID:     cfg.SessionID,
		httpClient: &http.Client{
			Timeout: cfg.GetTimeout(),
			// A redirect means the session expired; surface it instead of
			// following it to the login page.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// SetSession replaces the session cookie value sent with every request.
func (c *Client) SetSession(id string) {
	c.sessionID = id
}

// UpsertShift creates or updates the record for payload.AttendanceDate.
func (c *Client) UpsertShift(ctx context.Context, csrf string, payload attendance.ShiftPayload) (*ShiftResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shift payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.upsertPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if csrf != "" {
		req.Header.Set(csrfHeader, csrf)
	}

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var resp ShiftResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !resp.OK {
		return &resp, &RejectedError{Message: resp.Message}
	}
	return &resp, nil
}

// LookupShift asks for the record of one date; Data is nil when none exists.
func (c *Client) LookupShift(ctx context.Context, csrf, date string) (*ShiftResponse, error) {
	return c.UpsertShift(ctx, csrf, attendance.ShiftPayload{AttendanceDate: date})
}

func (c *Client) FetchHistory(ctx context.Context) (*HistoryResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.historyPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var wire historyWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !wire.OK {
		return nil, &RejectedError{Message: wire.Message}
	}
	return &HistoryResponse{
		OK:            true,
		Data:          attendance.DecodeRecords(wire.Data),
		LastUpdatedAt: wire.LastUpdatedAt,
	}, nil
}

// Ping reports whether the portal answers at all; any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build portal request: %w", err)
	}
	if c.sessionCookie != "" && c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: c.sessionCookie, Value: c.sessionID})
	}
	return req, nil
}

// do sends req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Log.Debug("Portal request failed", zap.String("url", req.URL.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode}
		var envelope struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			se.Message = envelope.Message
		}
		return nil, se
	}
	return raw, nil
}
