package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/microcosm-cc/bluemonday"
)

// ServiceError is a non-success response from the processing service
type ServiceError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Endpoint, e.StatusCode, e.Message)
}

// Temporary reports whether the failure is on the service side
func (e *ServiceError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

var textPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

func newServiceError(endpoint string, resp *resty.Response) *ServiceError {
	return &ServiceError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode(),
		Message:    readableBody(resp.Header().Get("Content-Type"), resp.Body(), resp.StatusCode()),
	}
}

// readableBody turns an error body into one line of text. FastAPI wraps
// messages in {"detail": ...}; HTML pages from proxies are reduced to text.
func readableBody(contentType string, body []byte, status int) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return http.StatusText(status)
	}

	var payload struct {
		Detail any `json:"detail"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		if msg := detailText(payload.Detail); msg != "" {
			return msg
		}
	}

	if strings.Contains(contentType, "html") || bytes.HasPrefix(body, []byte("<")) {
		text := html.UnescapeString(textPolicy.Sanitize(string(body)))
		if text = collapse(text); text != "" {
			return text
		}
		return http.StatusText(status)
	}

	return collapse(string(body))
}

// detailText flattens a FastAPI detail, which is a string or a list of
// validation errors carrying "msg"
func detailText(detail any) string {
	switch d := detail.(type) {
	case string:
		return d
	case []any:
		msgs := make([]string, 0, len(d))
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				if msg, ok := m["msg"].(string); ok {
					msgs = append(msgs, msg)
					continue
				}
			}
			if raw, err := sonic.MarshalString(item); err == nil {
				msgs = append(msgs, raw)
			}
		}
		return strings.Join(msgs, "; ")
	default:
		raw, err := sonic.MarshalString(d)
		if err != nil {
			return ""
		}
		return raw
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// countsAsFailure is the breaker's failure classifier: client errors and
// caller cancellation say nothing about service health
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
