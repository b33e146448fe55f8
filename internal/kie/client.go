// Package kie is an HTTP client for the KIE-style jobs API used by the
// Kling adapter: createTask, recordInfo and the matching callback payload.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maauso/videotask-api/internal/provider"
)

// Static errors for KIE client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("kie: API key is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("kie: task ID is required")
	// ErrNoTaskIDReturned is returned when a successful create carries no task ID.
	ErrNoTaskIDReturned = errors.New("kie: create succeeded but no task ID returned")
	// ErrInvalidResponse is returned when a 2xx response body cannot be decoded.
	ErrInvalidResponse = errors.New("kie: invalid response body")
)

// Codes of ProviderErrors raised for unusable 2xx responses.
const (
	InvalidResponseCode = "invalid_response"
	MissingTaskIDCode   = "missing_task_id"
)

// DefaultBaseURL is the public KIE API endpoint.
const DefaultBaseURL = "https://api.kie.ai"

const providerName = "kie"

// Client defines the operations of the jobs API.
type Client interface {
	// CreateTask submits a job. It is attempted exactly once.
	CreateTask(ctx context.Context, req CreateTaskRequest) (taskID string, err error)

	// RecordInfo reads a job. Transient failures are retried.
	RecordInfo(ctx context.Context, taskID string) (Record, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

var _ Client = (*HTTPClient)(nil)

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for read operations.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new KIE HTTP client.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	return c, nil
}

// CreateTask submits a job and returns the provider task ID.
func (c *HTTPClient) CreateTask(ctx context.Context, req CreateTaskRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("kie: marshal request: %w", err)
	}

	env, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/api/v1/jobs/createTask", body)
	if err != nil {
		return "", err
	}

	var data createData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", unreadableResponse(InvalidResponseCode, http.StatusOK, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
		}
	}
	if env.Code != CodeOK {
		return "", applicationError(env, data.FailMsg)
	}
	if data.TaskID == "" {
		return "", unreadableResponse(MissingTaskIDCode, http.StatusOK, ErrNoTaskIDReturned)
	}
	return data.TaskID, nil
}

// RecordInfo reads the current record of a job.
func (c *HTTPClient) RecordInfo(ctx context.Context, taskID string) (Record, error) {
	if taskID == "" {
		return Record{}, ErrTaskIDRequired
	}

	u := c.baseURL + "/api/v1/jobs/recordInfo?taskId=" + url.QueryEscape(taskID)

	env, err := c.doRequestWithRetry(ctx, http.MethodGet, u)
	if err != nil {
		var pe *provider.ProviderError
		if errors.As(err, &pe) && pe.Status == http.StatusNotFound {
			return Record{}, fmt.Errorf("%w: %s", provider.ErrTaskNotFound, taskID)
		}
		return Record{}, err
	}
	if env.Code == CodeNotFound {
		return Record{}, fmt.Errorf("%w: %s", provider.ErrTaskNotFound, taskID)
	}

	return decodeRecord(env)
}

// ParseRecord decodes a callback payload, which shares the recordInfo envelope.
// A non-success code without a reported state is treated as a failed job.
func ParseRecord(body []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Record{}, fmt.Errorf("kie: unmarshal callback: %w", err)
	}
	if env.Code != 0 && env.Code != CodeOK {
		rec, err := decodeRecordData(env.Data)
		if err != nil {
			return Record{}, err
		}
		if rec.State == "" {
			rec.State = "fail"
		}
		if rec.FailMsg == "" {
			rec.FailMsg = provider.MessageFrom(env.Message, env.Msg, string(env.Error))
		}
		if rec.FailCode == "" {
			rec.FailCode = strconv.Itoa(env.Code)
		}
		return rec, nil
	}
	return decodeRecord(env)
}

func decodeRecord(env envelope) (Record, error) {
	rec, err := decodeRecordData(env.Data)
	if err != nil {
		return Record{}, err
	}
	if env.Code != 0 && env.Code != CodeOK {
		return Record{}, applicationError(env, rec.FailMsg)
	}
	return rec, nil
}

func decodeRecordData(raw json.RawMessage) (Record, error) {
	var data recordData
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &data); err != nil {
			return Record{}, fmt.Errorf("kie: unmarshal record: %w", err)
		}
	}

	rec := Record{
		TaskID:   data.TaskID,
		Model:    data.Model,
		State:    strings.ToLower(strings.TrimSpace(data.State)),
		FailCode: string(data.FailCode),
		FailMsg:  data.FailMsg,
	}
	if data.ResultJSON != "" {
		var res resultJSON
		if err := json.Unmarshal([]byte(data.ResultJSON), &res); err != nil {
			return Record{}, fmt.Errorf("kie: unmarshal resultJson: %w", err)
		}
		rec.ResultURLs = res.ResultURLs
	}
	return rec, nil
}

func applicationError(env envelope, detail string) *provider.ProviderError {
	return &provider.ProviderError{
		Provider: providerName,
		Code:     strconv.Itoa(env.Code),
		Message:  provider.MessageFrom(env.Message, env.Msg, string(env.Error), detail),
		Status:   http.StatusOK,
	}
}

// doRequestWithRetry performs a read with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, u string) (envelope, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return envelope{}, fmt.Errorf("kie: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		env, err := c.doRequest(ctx, method, u, nil)
		if err == nil {
			return env, nil
		}
		if !provider.IsRetryable(err) {
			return envelope{}, err
		}
		lastErr = err
	}

	return envelope{}, fmt.Errorf("kie: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request and decodes the envelope.
func (c *HTTPClient) doRequest(ctx context.Context, method, u string, body []byte) (envelope, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return envelope{}, fmt.Errorf("kie: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, transportError(err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return envelope{}, &provider.ProviderError{
			Provider: providerName,
			Code:     fmt.Sprintf("http_%d", resp.StatusCode),
			Message:  provider.MessageFrom(env.Message, env.Msg, string(env.Error), truncate(string(respBody), 256)),
			Status:   resp.StatusCode,
		}
	}
	if decodeErr != nil {
		return envelope{}, unreadableResponse(InvalidResponseCode, resp.StatusCode, fmt.Errorf("%w: %v", ErrInvalidResponse, decodeErr))
	}
	return env, nil
}

func transportError(err error) *provider.ProviderError {
	return &provider.ProviderError{
		Provider:  providerName,
		Code:      provider.TransportErrorCode,
		Message:   err.Error(),
		Transport: true,
		Err:       err,
	}
}

// unreadableResponse reports a 2xx response that cannot be used. The job may
// exist on the provider side, so it is marked as a transport failure.
func unreadableResponse(code string, status int, err error) *provider.ProviderError {
	return &provider.ProviderError{
		Provider:  providerName,
		Code:      code,
		Message:   err.Error(),
		Transport: true,
		Status:    status,
		Err:       err,
	}
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
