package model

import "time"

// DataCategory names a class of personal data subject to consent.
type DataCategory string

const (
	CategoryContact      DataCategory = "contact"
	CategoryOrderHistory DataCategory = "order_history"
	CategoryPayment      DataCategory = "payment"
	CategoryLoyalty      DataCategory = "loyalty"
	CategoryMarketing    DataCategory = "marketing"
)

// ConsentStatus is the lifecycle of a consent decision.
type ConsentStatus string

const (
	ConsentPending ConsentStatus = "pending"
	ConsentGranted ConsentStatus = "granted"
	ConsentDenied  ConsentStatus = "denied"
	ConsentExpired ConsentStatus = "expired"
)

// ConsentRequest asks a customer to approve migration of specific data
// categories. The token correlates the eventual response.
type ConsentRequest struct {
	CustomerID     string         `json:"customer_id"`
	DataCategories []DataCategory `json:"data_categories"`
	Purpose        string         `json:"purpose"`
	RetentionDays  int            `json:"retention_days"`
	ConsentToken   string         `json:"consent_token"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// ConsentResponse is the customer's recorded decision.
type ConsentResponse struct {
	CustomerID        string         `json:"customer_id"`
	ConsentToken      string         `json:"consent_token"`
	Status            ConsentStatus  `json:"status"`
	GrantedCategories []DataCategory `json:"granted_categories,omitempty"`
	DeniedCategories  []DataCategory `json:"denied_categories,omitempty"`
	ExpiresAt         time.Time      `json:"expires_at"`
	RespondedAt       time.Time      `json:"responded_at"`
}

// Covers reports whether the response grants the category and has not
// expired as of now.
func (r *ConsentResponse) Covers(cat DataCategory, now time.Time) bool {
	if r.Status != ConsentGranted {
		return false
	}
	if !r.ExpiresAt.After(now) {
		return false
	}
	for _, g := range r.GrantedCategories {
		if g == cat {
			return true
		}
	}
	return false
}

// Customer is the slice of a customer record the auditor needs.
type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Consents []ConsentResponse `json:"consents,omitempty"`
}

// RetentionPolicy caps how long a data category may be retained.
type RetentionPolicy struct {
	Category DataCategory `json:"category"`
	MaxDays  int          `json:"max_days"`
}
