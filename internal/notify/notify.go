package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Notifier posts relay activity to an NTFY-style endpoint. An empty endpoint
// disables it entirely; every send is best-effort and never blocks the relay
// path that triggered it.
type Notifier struct {
	endpoint string
	client   *http.Client
}

// New creates a Notifier. A nil client falls back to http.DefaultClient.
func New(endpoint string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{endpoint: endpoint, client: client}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n.endpoint != ""
}

// OrderForwarded announces one relayed order.
func (n *Notifier) OrderForwarded(ctx context.Context, fromClientID, targetClientID string) error {
	if !n.Enabled() {
		return nil
	}
	return Send(ctx, n.client, n.endpoint, fmt.Sprintf("order relayed: %s -> %s", fromClientID, targetClientID))
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
