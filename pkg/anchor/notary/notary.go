// Package notary publishes a day's Merkle root to an external notarization
// service and returns the receipt identifier it issues.
package notary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type anchorRequest struct {
	Day  string `json:"day"`
	Root string `json:"root"`
}

// receiptResponse accepts the field names notaries commonly use for the
// receipt identifier, in order of preference.
type receiptResponse struct {
	ReceiptID string `json:"receipt_id"`
	Receipt   string `json:"receipt"`
	ID        string `json:"id"`
}

func (r receiptResponse) value() string {
	for _, v := range []string{r.ReceiptID, r.Receipt, r.ID} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Notarize POSTs {day, root} to <BaseURL>/anchors and returns the receipt id.
func (c *Client) Notarize(ctx context.Context, day, root string) (string, error) {
	body, err := json.Marshal(anchorRequest{Day: day, Root: root})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/anchors", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var out receiptResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("notary_bad_response: %w", err)
	}
	receipt := out.value()
	if receipt == "" {
		return "", fmt.Errorf("notary_missing_receipt")
	}
	return receipt, nil
}

// StatusError is a non-2xx reply from the notary.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("notary_http_status_%d", e.StatusCode)
	}
	return fmt.Sprintf("notary_http_status_%d: %s", e.StatusCode, e.Body)
}
