// Package advice calls the external savings predictor.
package advice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUpstream indicates the predictor was unreachable or answered badly.
// Callers surface it as a generic failure without internal detail.
var ErrUpstream = errors.New("advice service unavailable")

// Client talks to the predictor's /predict endpoint.
type Client struct {
	endpoint string
	httpc    *http.Client
}

// NewClient constructs a Client. A nil http.Client gets a bounded default.
func NewClient(endpoint string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{endpoint: endpoint, httpc: httpc}
}

type predictRequest struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
}

type predictResponse struct {
	Prediction float64 `json:"prediction"`
}

// Predict returns the predicted savings for an income/expense pair.
func (c *Client) Predict(ctx context.Context, income, expense decimal.Decimal) (decimal.Decimal, error) {
	body, err := json.Marshal(predictRequest{
		Income:  income.InexactFloat64(),
		Expense: expense.InexactFloat64(),
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: encode request", ErrUpstream)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: build request", ErrUpstream)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode response", ErrUpstream)
	}
	return decimal.NewFromFloat(out.Prediction), nil
}
