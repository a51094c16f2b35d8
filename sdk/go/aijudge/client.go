package aijudge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Task states reported by the API.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the AIJudge attestation API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Submission is the payload required to queue a dispute for attestation.
type Submission struct {
	ID       string `json:"id,omitempty"`
	MarketID string `json:"market_id,omitempty"`
	Question string `json:"question,omitempty"`
	Evidence string `json:"evidence"`
	Salt     string `json:"salt,omitempty"`
	Analysis string `json:"analysis,omitempty"`
}

// Result carries the public fields of a finished attestation.
type Result struct {
	AttestationID     string `json:"attestation_id"`
	Salt              string `json:"salt"`
	EvidenceHash      string `json:"evidence_hash"`
	Commitment        string `json:"commitment"`
	ValidLength       bool   `json:"valid_length"`
	Outcome           string `json:"outcome"`
	Confidence        uint16 `json:"confidence"`
	ReasoningHash     string `json:"reasoning_hash"`
	Linked            bool   `json:"linked"`
	VoteSalt          string `json:"vote_salt"`
	VoteCommit        string `json:"vote_commit"`
	CommitmentValues  string `json:"commitment_values"`
	AttestationValues string `json:"attestation_values"`
}

// Task is the server-side view of a submitted dispute.
type Task struct {
	ID         string  `json:"id"`
	MarketID   string  `json:"market_id,omitempty"`
	Question   string  `json:"question,omitempty"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Done reports whether the task reached a final state.
func (t Task) Done() bool {
	return t.Status == StatusSucceeded || (t.Status == StatusFailed && t.Attempts >= t.MaxRetries)
}

// Stats aggregates task counts by state.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Yes       int `json:"yes_outcomes"`
	No        int `json:"no_outcomes"`
}

// ListQuery filters ListAttestations.
type ListQuery struct {
	Limit    int
	Offset   int
	Statuses []string
	MarketID string
	// Outcome is "YES" or "NO".
	Outcome string
	Query   string
}

// Record is a persisted attestation.
type Record struct {
	ID            string `json:"id"`
	TaskID        string `json:"task_id"`
	MarketID      string `json:"market_id"`
	EvidenceHash  string `json:"evidence_hash"`
	Commitment    string `json:"commitment"`
	ValidLength   bool   `json:"valid_length"`
	Outcome       uint8  `json:"outcome"`
	Confidence    uint16 `json:"confidence"`
	ReasoningHash string `json:"reasoning_hash"`
	Linked        bool   `json:"linked"`
	VoteCommit    string `json:"vote_commit"`
	CreatedAt     int64  `json:"created_at"`
}

// Opening reveals a commitment. Evidence is optional; without it only the
// evidence hash and salt are checked.
type Opening struct {
	EvidenceHash string  `json:"evidence_hash"`
	Commitment   string  `json:"commitment"`
	Salt         string  `json:"salt"`
	Evidence     *string `json:"evidence,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("aijudge api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("aijudge api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AIJudge API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the bearer token sent with task and record calls.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token. An empty token disables the header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SubmitAttestation queues a dispute. Resubmitting a known ID returns the
// existing task.
func (c *Client) SubmitAttestation(ctx context.Context, submission Submission) (Task, error) {
	var task Task
	if err := c.post(ctx, "/api/v1/attestations", submission, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetAttestation fetches a task by identifier.
func (c *Client) GetAttestation(ctx context.Context, taskID string) (Task, error) {
	var task Task
	if err := c.get(ctx, "/api/v1/attestations/"+url.PathEscape(taskID), nil, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// ListAttestations lists tasks, most recently updated first.
func (c *Client) ListAttestations(ctx context.Context, q ListQuery) ([]Task, error) {
	values := url.Values{}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Statuses) > 0 {
		values.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.MarketID != "" {
		values.Set("market", q.MarketID)
	}
	if q.Outcome != "" {
		values.Set("outcome", q.Outcome)
	}
	if q.Query != "" {
		values.Set("q", q.Query)
	}
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.get(ctx, "/api/v1/attestations", values, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// Stats returns task counts by state.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/attestations/stats", nil, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// WaitForAttestation polls until the task is done or ctx ends.
func (c *Client) WaitForAttestation(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetAttestation(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Records lists persisted attestations. A non-empty evidenceHash restricts the
// result to that evidence.
func (c *Client) Records(ctx context.Context, evidenceHash string, limit int) ([]Record, error) {
	values := url.Values{}
	if evidenceHash != "" {
		values.Set("evidence_hash", evidenceHash)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Records []Record `json:"records"`
	}
	if err := c.get(ctx, "/api/v1/records", values, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// VerifyCommitment checks a commitment opening on the server.
func (c *Client) VerifyCommitment(ctx context.Context, opening Opening) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.post(ctx, "/api/v1/commitments/verify", opening, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// VerifyLink checks that two hex-encoded public value blobs describe the same
// evidence.
func (c *Client) VerifyLink(ctx context.Context, commitmentValues, attestationValues string) (bool, error) {
	payload := map[string]string{
		"commitment_values":  commitmentValues,
		"attestation_values": attestationValues,
	}
	var out struct {
		Linked bool `json:"linked"`
	}
	if err := c.post(ctx, "/api/v1/links/verify", payload, &out); err != nil {
		return false, err
	}
	return out.Linked, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			// plain-text errors (auth, method checks) fall through to Message below
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
