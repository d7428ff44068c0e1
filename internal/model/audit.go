package model

import "time"

// AuditOperation names an auditable action.
type AuditOperation string

const (
	AuditConsentCheck   AuditOperation = "consent_check"
	AuditHumanOverride  AuditOperation = "human_override"
	AuditDataAccess     AuditOperation = "data_access"
	AuditBatchCommit    AuditOperation = "batch_commit"
	AuditBatchRollback  AuditOperation = "batch_rollback"
	AuditPhaseChange    AuditOperation = "phase_change"
	AuditPlanGenerated  AuditOperation = "plan_generated"
	AuditRecordExcluded AuditOperation = "record_excluded"
)

// AuditLogEntry is one append-only record in the migration audit trail.
// Entries are never mutated or deleted.
type AuditLogEntry struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	MigrationID     string         `json:"migration_id"`
	Operation       AuditOperation `json:"operation"`
	UserID          string         `json:"user_id,omitempty"`
	AgentName       string         `json:"agent_name,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	DataCategories  []DataCategory `json:"data_categories,omitempty"`
	ComplianceNotes string         `json:"compliance_notes,omitempty"`
}

// ComplianceViolation describes one customer/category pair that blocks
// migration of the affected record.
type ComplianceViolation struct {
	CustomerID string       `json:"customer_id"`
	Category   DataCategory `json:"category"`
	Reason     string       `json:"reason"` // "denied", "expired", "missing"
}

// ComplianceReport is the auditor's verdict for a set of customers.
type ComplianceReport struct {
	ID                 string                `json:"id"`
	MigrationID        string                `json:"migration_id"`
	Kind               string                `json:"kind"` // "consent", "retention"
	CustomersChecked   int                   `json:"customers_checked"`
	CustomersCleared   int                   `json:"customers_cleared"`
	Violations         []ComplianceViolation `json:"violations,omitempty"`
	BlockedCustomerIDs []string              `json:"blocked_customer_ids,omitempty"`
	GeneratedAt        time.Time             `json:"generated_at"`
}

// Compliant reports whether no violations were found.
func (r *ComplianceReport) Compliant() bool {
	return len(r.Violations) == 0
}

// Blocked reports whether the given customer has at least one violation.
func (r *ComplianceReport) Blocked(customerID string) bool {
	for _, id := range r.BlockedCustomerIDs {
		if id == customerID {
			return true
		}
	}
	return false
}
