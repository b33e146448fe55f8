package kie

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videotask-api/internal/provider"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL+"/"),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	_, err := NewClient()
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestCreateTask_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/jobs/createTask", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "kling-3.0/video", body["model"])
		assert.Equal(t, "https://cb/hook", body["callBackUrl"])
		assert.Equal(t, map[string]any{"prompt": "a cat"}, body["input"])

		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"task-1"}}`))
	})

	id, err := c.CreateTask(context.Background(), CreateTaskRequest{
		Model:       "kling-3.0/video",
		CallbackURL: "https://cb/hook",
		Input:       map[string]string{"prompt": "a cat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
}

func TestCreateTask_ApplicationError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    string
		message string
	}{
		{"message first", `{"code":422,"message":"bad input","msg":"m","error":"e"}`, "422", "bad input"},
		{"msg second", `{"code":401,"msg":"unauthorized","error":"e"}`, "401", "unauthorized"},
		{"error third", `{"code":500,"error":"boom"}`, "500", "boom"},
		{"nested detail", `{"code":501,"data":{"failMsg":"nsfw"}}`, "501", "nsfw"},
		{"nothing", `{"code":402}`, "402", provider.UnknownErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.CreateTask(context.Background(), CreateTaskRequest{Model: "m"})
			var pe *provider.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.message, pe.Message)
			assert.False(t, pe.Ambiguous())
		})
	}
}

func TestCreateTask_NotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CreateTask(context.Background(), CreateTaskRequest{Model: "m"})
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "http_502", pe.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateTask_TransportErrorIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c, err := NewClient(WithAPIKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.CreateTask(context.Background(), CreateTaskRequest{Model: "m"})
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.TransportErrorCode, pe.Code)
	assert.True(t, pe.Ambiguous())
}

func TestCreateTask_NoTaskID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{}}`))
	})

	_, err := c.CreateTask(context.Background(), CreateTaskRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrNoTaskIDReturned)

	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, MissingTaskIDCode, pe.Code)
	assert.True(t, pe.Ambiguous())
}

func TestCreateTask_UndecodableBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"html gateway page", `<html>gateway</html>`},
		{"malformed data", `{"code":200,"data":"oops"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.CreateTask(context.Background(), CreateTaskRequest{Model: "m"})
			assert.ErrorIs(t, err, ErrInvalidResponse)

			var pe *provider.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, InvalidResponseCode, pe.Code)
			assert.True(t, pe.Ambiguous())
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))

	// "é" is two bytes; cutting inside it backs off to the previous rune.
	got := truncate("aé", 2)
	assert.Equal(t, "a", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日", truncate("日本", 4))
}

func TestRecordInfo_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/jobs/recordInfo", r.URL.Path)
		assert.Equal(t, "task-1", r.URL.Query().Get("taskId"))
		_, _ = w.Write([]byte(`{"code":200,"data":{"taskId":"task-1","state":"SUCCESS","resultJson":"{\"resultUrls\":[\"https://cdn/v.mp4\"]}"}}`))
	})

	rec, err := c.RecordInfo(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", rec.TaskID)
	assert.Equal(t, "success", rec.State)
	assert.Equal(t, []string{"https://cdn/v.mp4"}, rec.ResultURLs)
}

func TestRecordInfo_NumericFailCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"taskId":"t","state":"fail","failCode":501,"failMsg":"content rejected"}}`))
	})

	rec, err := c.RecordInfo(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "fail", rec.State)
	assert.Equal(t, "501", rec.FailCode)
	assert.Equal(t, "content rejected", rec.FailMsg)
}

func TestRecordInfo_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"code":200,"data":{"taskId":"t","state":"generating"}}`))
		}
	})

	rec, err := c.RecordInfo(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "generating", rec.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRecordInfo_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.RecordInfo(context.Background(), "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.True(t, provider.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRecordInfo_NotFound(t *testing.T) {
	t.Run("envelope code", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"code":404,"msg":"task not found"}`))
		})
		_, err := c.RecordInfo(context.Background(), "missing")
		assert.ErrorIs(t, err, provider.ErrTaskNotFound)
	})

	t.Run("http status", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := c.RecordInfo(context.Background(), "missing")
		assert.ErrorIs(t, err, provider.ErrTaskNotFound)
	})
}

func TestRecordInfo_EmptyID(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.RecordInfo(context.Background(), "")
	assert.ErrorIs(t, err, ErrTaskIDRequired)
}

func TestRecordInfo_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.baseBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.RecordInfo(ctx, "t")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseRecord(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		rec, err := ParseRecord([]byte(`{"code":200,"data":{"taskId":"t","state":"success","resultJson":"{\"resultUrls\":[\"u1\",\"u2\"]}"}}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, rec.ResultURLs)
	})

	t.Run("failure code without state", func(t *testing.T) {
		rec, err := ParseRecord([]byte(`{"code":501,"msg":"generation failed","data":{"taskId":"t"}}`))
		require.NoError(t, err)
		assert.Equal(t, "fail", rec.State)
		assert.Equal(t, "501", rec.FailCode)
		assert.Equal(t, "generation failed", rec.FailMsg)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseRecord([]byte(`{`))
		assert.Error(t, err)
	})

	t.Run("malformed resultJson", func(t *testing.T) {
		_, err := ParseRecord([]byte(`{"code":200,"data":{"taskId":"t","resultJson":"not json"}}`))
		assert.Error(t, err)
	})
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":12,"c":null}`), &v))
	assert.Equal(t, flexString("x"), v.A)
	assert.Equal(t, flexString("12"), v.B)
	assert.Equal(t, flexString(""), v.C)
}
