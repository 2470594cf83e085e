package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/varpol/internal/mailbox"
)

// HTTPTransport is a mailbox.Transport that posts requests to a running
// server.
type HTTPTransport struct {
	url    string
	client *http.Client
}

var _ mailbox.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport targets the server at baseURL, e.g.
// "http://127.0.0.1:8407". A nil client uses http.DefaultClient.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		url:    strings.TrimRight(baseURL, "/") + "/mailbox",
		client: client,
	}
}

// Communicate implements mailbox.Transport.
func (t *HTTPTransport) Communicate(ctx context.Context, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(request))
	if err != nil {
		return nil, fmt.Errorf("build mailbox request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post mailbox: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, mailbox.HeaderSize+4+mailbox.MaxDumpSize+1))
	if err != nil {
		return nil, fmt.Errorf("read mailbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailbox: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
