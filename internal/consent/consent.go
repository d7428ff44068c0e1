// Package consent sends consent requests and migration summaries to
// customers through the tenant's notification webhook.
package consent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/internal/resilience"
)

// Communicator defines the customer-facing consent operations.
type Communicator interface {
	// SendConsentRequest delivers a consent request and returns the token
	// that will correlate the eventual response.
	SendConsentRequest(ctx context.Context, customer model.Customer, req model.ConsentRequest) (string, error)
	// SendMigrationSummary notifies a customer that their data was migrated.
	SendMigrationSummary(ctx context.Context, customer model.Customer, stats MigrationSummary) error
}

// MigrationSummary is what a customer is told after their data moved.
type MigrationSummary struct {
	MigrationID    string               `json:"migration_id"`
	ItemsMigrated  int                  `json:"items_migrated"`
	DataCategories []model.DataCategory `json:"data_categories"`
	CompletedAt    time.Time            `json:"completed_at"`
}

// Option configures the webhook communicator.
type Option func(*webhook)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(w *webhook) {
		w.http = hc
	}
}

// WithTimeout bounds each webhook delivery.
func WithTimeout(d time.Duration) Option {
	return func(w *webhook) {
		w.http.Timeout = d
	}
}

type webhook struct {
	url  string
	http *http.Client
}

// NewWebhook creates a Communicator that POSTs to the tenant's
// notification endpoint.
func NewWebhook(url string, opts ...Option) Communicator {
	w := &webhook{
		url: url,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookEnvelope struct {
	Kind       string `json:"kind"` // "consent_request" or "migration_summary"
	CustomerID string `json:"customer_id"`
	Email      string `json:"email,omitempty"`
	Payload    any    `json:"payload"`
}

func (w *webhook) SendConsentRequest(ctx context.Context, customer model.Customer, req model.ConsentRequest) (string, error) {
	if req.ConsentToken == "" {
		req.ConsentToken = uuid.New().String()
	}
	req.CustomerID = customer.ID

	err := w.deliver(ctx, webhookEnvelope{
		Kind:       "consent_request",
		CustomerID: customer.ID,
		Email:      customer.Email,
		Payload:    req,
	})
	if err != nil {
		return "", eris.Wrapf(err, "consent: send request to customer %s", customer.ID)
	}
	return req.ConsentToken, nil
}

func (w *webhook) SendMigrationSummary(ctx context.Context, customer model.Customer, stats MigrationSummary) error {
	err := w.deliver(ctx, webhookEnvelope{
		Kind:       "migration_summary",
		CustomerID: customer.ID,
		Email:      customer.Email,
		Payload:    stats,
	})
	if err != nil {
		return eris.Wrapf(err, "consent: send summary to customer %s", customer.ID)
	}
	return nil
}

func (w *webhook) deliver(ctx context.Context, env webhookEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return eris.Wrap(err, "encode envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := eris.New(fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, snippet))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
