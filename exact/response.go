package exact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Result is a decoded 2xx response. Data holds the OData payload with the
// "d" envelope (and "results" wrapper, if any) removed.
type Result struct {
	StatusCode int
	Data       json.RawMessage
	Next       string
}

// Decode unmarshals Data into v. An empty payload leaves v untouched.
func (r *Result) Decode(v any) error {
	if r.empty() {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Items splits a collection payload into its elements. A single object is
// returned as a one-element slice.
func (r *Result) Items() ([]json.RawMessage, error) {
	if r.empty() {
		return nil, nil
	}
	data := bytes.TrimSpace(r.Data)
	if data[0] != '[' {
		return []json.RawMessage{r.Data}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return items, nil
}

// empty reports whether there is no payload; a JSON null counts as none.
func (r *Result) empty() bool {
	if r == nil {
		return true
	}
	data := bytes.TrimSpace(r.Data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

type envelope struct {
	D json.RawMessage `json:"d"`
}

type collection struct {
	Results json.RawMessage `json:"results"`
	Next    string          `json:"__next"`
}

// parseResult unwraps {"d": ...} and {"d": {"results": [...], "__next": ...}}.
// Bodies without an envelope are passed through as-is.
func parseResult(status int, body []byte) (*Result, error) {
	res := &Result{StatusCode: status}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return res, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.D) == 0 {
		if !json.Valid(body) {
			if err == nil {
				err = errors.New("invalid JSON")
			}
			return nil, err
		}
		res.Data = json.RawMessage(body)
		return res, nil
	}

	d := bytes.TrimSpace(env.D)
	if len(d) > 0 && d[0] == '{' {
		var col collection
		if err := json.Unmarshal(d, &col); err == nil && len(col.Results) > 0 {
			res.Data = col.Results
			res.Next = col.Next
			return res, nil
		}
	}
	if !bytes.Equal(d, []byte("null")) {
		res.Data = env.D
	}
	return res, nil
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"message"`
	} `json:"error"`
}

// newAPIError builds an APIError from a non-2xx response whose body has
// already been read.
func newAPIError(req *http.Request, resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		URL:        req.URL.String(),
		Body:       string(body),
		Request:    req,
		Response:   resp,
	}

	var payload apiErrorBody
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message.Value
	}
	if apiErr.Message == "" {
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" && !json.Valid(body) {
			apiErr.Message = trimmed
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
