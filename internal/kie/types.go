package kie

import (
	"bytes"
	"encoding/json"
)

// Code values reported in the response envelope.
const (
	CodeOK       = 200
	CodeNotFound = 404
)

// CreateTaskRequest is the body of POST /api/v1/jobs/createTask.
type CreateTaskRequest struct {
	Model       string `json:"model"`
	CallbackURL string `json:"callBackUrl,omitempty"`
	Input       any    `json:"input"`
}

// Record is a task as reported by recordInfo or a completion callback.
type Record struct {
	TaskID     string
	Model      string
	State      string
	ResultURLs []string
	FailCode   string
	FailMsg    string
}

// envelope wraps every response body and callback payload.
type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Error   flexString      `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type createData struct {
	TaskID  string `json:"taskId"`
	FailMsg string `json:"failMsg"`
}

type recordData struct {
	TaskID     string     `json:"taskId"`
	Model      string     `json:"model"`
	State      string     `json:"state"`
	ResultJSON string     `json:"resultJson"`
	FailCode   flexString `json:"failCode"`
	FailMsg    string     `json:"failMsg"`
}

// resultJSON is the document embedded as a string in recordData.ResultJSON.
type resultJSON struct {
	ResultURLs []string `json:"resultUrls"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	// Objects and arrays are kept verbatim.
	*f = flexString(b)
	return nil
}
