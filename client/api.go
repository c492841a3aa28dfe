package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError carries the machine-readable error code and HTTP status returned by
// the training endpoints.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.Status)
}

// Error codes the server returns; mirrored here so callers can branch without
// string literals.
const (
	ErrCodeInvalid     = "invalid_code"
	ErrCodeUsed        = "code_used"
	ErrCodeExpired     = "code_expired"
	ErrCodeSessionOver = "session_ended"
	ErrCodeAIFailure   = "ai_unavailable"
)

// CodeInfo is the result of a successful code validation.
type CodeInfo struct {
	Valid      bool   `json:"valid"`
	ClientName string `json:"client_name"`
	Product    string `json:"product,omitempty"`
}

// Session is the subset of the server's session record the client tracks.
type Session struct {
	ID            string     `json:"id"`
	CandidateName string     `json:"candidate_name"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// StartSessionResult pairs the new session with its opening persona message.
type StartSessionResult struct {
	Session        Session `json:"session"`
	WelcomeMessage Message `json:"welcome_message"`
}

// SendResult carries the persisted candidate message and, when the AI
// responded, its reply. AIReply is nil on AI failure; the candidate message is
// still persisted server-side in that case.
type SendResult struct {
	Message Message  `json:"message"`
	AIReply *Message `json:"ai_reply,omitempty"`
}

// Evaluation is the scored session outcome, 0 to 100.
type Evaluation struct {
	Score           float64 `json:"score"`
	Feedback        string  `json:"feedback"`
	Strengths       string  `json:"strengths,omitempty"`
	AreasToImprove  string  `json:"areas_to_improve,omitempty"`
	Recommendations string  `json:"recommendations,omitempty"`
}

// APIClient talks to the training HTTP endpoints.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient builds a client for the given base URL, e.g.
// "https://api.convert-ia.com/api/v1".
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 45 * time.Second},
	}
}

// WebsocketURL derives the realtime endpoint for a session from the base URL.
func (c *APIClient) WebsocketURL(sessionID string) string {
	u := c.baseURL
	if strings.HasPrefix(u, "https://") {
		u = "wss://" + strings.TrimPrefix(u, "https://")
	} else if strings.HasPrefix(u, "http://") {
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/training/ws?session_id=" + url.QueryEscape(sessionID)
}

// ValidateCode checks a training code without consuming it.
func (c *APIClient) ValidateCode(ctx context.Context, code string) (*CodeInfo, error) {
	var out CodeInfo
	err := c.do(ctx, http.MethodPost, "/training/codes/validate", map[string]string{"code": code}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSession redeems the code and opens a session.
func (c *APIClient) StartSession(ctx context.Context, code, candidateName string) (*StartSessionResult, error) {
	var out StartSessionResult
	body := map[string]string{"code": code, "candidate_name": candidateName}
	if err := c.do(ctx, http.MethodPost, "/training/sessions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage posts a candidate message. On AI failure the returned error is an
// *APIError with code "ai_unavailable" AND the result still carries the
// persisted candidate message.
func (c *APIClient) SendMessage(ctx context.Context, sessionID, content string) (*SendResult, error) {
	var out SendResult
	path := "/training/sessions/" + url.PathEscape(sessionID) + "/messages"
	err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == ErrCodeAIFailure && out.Message.ID != "" {
			return &out, err
		}
		return nil, err
	}
	return &out, nil
}

// FetchMessages returns the session's full ordered transcript.
func (c *APIClient) FetchMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
		Count    int       `json:"count"`
	}
	path := "/training/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// EndSession terminates the session and returns its evaluation. Idempotent
// server-side; a repeat call returns the stored result.
func (c *APIClient) EndSession(ctx context.Context, sessionID string) (*Evaluation, error) {
	var out struct {
		Evaluation Evaluation `json:"evaluation"`
	}
	path := "/training/sessions/" + url.PathEscape(sessionID) + "/end"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Evaluation, nil
}

// FetchEvaluation polls for the stored evaluation. Returns (nil, nil) while
// scoring is still pending.
func (c *APIClient) FetchEvaluation(ctx context.Context, sessionID string) (*Evaluation, error) {
	var out struct {
		Status     string      `json:"status"`
		Evaluation *Evaluation `json:"evaluation"`
	}
	path := "/training/sessions/" + url.PathEscape(sessionID) + "/evaluation"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Status != "ready" {
		return nil, nil
	}
	return out.Evaluation, nil
}

// do performs one JSON round trip. Non-2xx responses decode into *APIError;
// when the error body also carries payload fields (partial success) they are
// decoded into out as well.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
			apiErr.Code = "http_error"
		}
		if out != nil {
			// Partial-success bodies mix payload and error fields
			json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
