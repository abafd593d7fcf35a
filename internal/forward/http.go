package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/model"
)

const (
	DefaultTimeout = 5 * time.Second
	maxBodyLog     = 512
)

// Sink receives every reading handed to the dispatcher.
type Sink interface {
	Name() string
	Send(ctx context.Context, r model.Reading) error
}

// HTTPForwarder posts readings to the ingestion endpoint.
type HTTPForwarder struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPForwarder(url, token string) *HTTPForwarder {
	return &HTTPForwarder{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: DefaultTimeout},
	}
}

func (f *HTTPForwarder) Name() string { return "http" }

func (f *HTTPForwarder) Send(ctx context.Context, r model.Reading) error {
	body, err := json.Marshal(r.Payload())
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classify(resp.StatusCode, respBody)
}

func classify(status int, body []byte) error {
	if status == http.StatusNotFound || notRegistered(body) {
		return ErrDeviceNotRegistered
	}
	if status == http.StatusOK {
		return nil
	}
	return &StatusError{Code: status, Body: truncate(body, maxBodyLog)}
}

// notRegistered looks for an error/code field in a JSON body that names an
// unknown device.
func notRegistered(body []byte) bool {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	for _, k := range []string{"error", "code"} {
		s, ok := fields[k].(string)
		if !ok {
			continue
		}
		s = strings.ToLower(s)
		s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
		if strings.Contains(s, "not registered") ||
			strings.Contains(s, "unregistered") ||
			strings.Contains(s, "device not found") {
			return true
		}
	}
	return false
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
