package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/model"
)

// Auditor checks consent and retention rules and writes its verdicts to
// the trail.
type Auditor struct {
	trail *Trail
	now   func() time.Time
}

// NewAuditor creates an Auditor. trail may be nil, in which case checks
// still run but are not recorded.
func NewAuditor(trail *Trail) *Auditor {
	return &Auditor{trail: trail, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (a *Auditor) WithNow(now func() time.Time) *Auditor {
	a.now = now
	return a
}

// VerifyConsent checks every customer against the required categories.
// A customer is cleared only when every category is covered by a
// granted, unexpired consent; everything else becomes an enumerable
// violation so the operator can resolve and resume.
func (a *Auditor) VerifyConsent(ctx context.Context, migrationID string, customers []model.Customer, required []model.DataCategory) (*model.ComplianceReport, error) {
	now := a.now().UTC()
	report := &model.ComplianceReport{
		ID:               uuid.New().String(),
		MigrationID:      migrationID,
		Kind:             "consent",
		CustomersChecked: len(customers),
		GeneratedAt:      now,
	}

	for _, c := range customers {
		blocked := false
		for _, cat := range required {
			reason, ok := consentReason(c, cat, now)
			if ok {
				continue
			}
			blocked = true
			report.Violations = append(report.Violations, model.ComplianceViolation{
				CustomerID: c.ID,
				Category:   cat,
				Reason:     reason,
			})
		}
		if blocked {
			report.BlockedCustomerIDs = append(report.BlockedCustomerIDs, c.ID)
		} else {
			report.CustomersCleared++
		}
	}

	a.record(ctx, migrationID, model.AuditConsentCheck, map[string]any{
		"customers_checked": report.CustomersChecked,
		"customers_cleared": report.CustomersCleared,
		"violations":        len(report.Violations),
	}, required)

	return report, nil
}

// consentReason reports whether the customer has usable consent for the
// category, and if not, why: "denied", "expired", or "missing". An
// explicit denial outranks an expired grant.
func consentReason(c model.Customer, cat model.DataCategory, now time.Time) (string, bool) {
	reason := "missing"
	for _, consent := range c.Consents {
		if consent.Covers(cat, now) {
			return "", true
		}
		if containsCategory(consent.DeniedCategories, cat) {
			return "denied", false
		}
		if containsCategory(consent.GrantedCategories, cat) && !consent.ExpiresAt.After(now) {
			reason = "expired"
		}
	}
	return reason, false
}

func containsCategory(cats []model.DataCategory, cat model.DataCategory) bool {
	for _, c := range cats {
		if c == cat {
			return true
		}
	}
	return false
}

// CheckRetentionCompliance verifies that the migration's requested
// retention does not exceed any policy cap for the categories involved.
func (a *Auditor) CheckRetentionCompliance(ctx context.Context, migrationID string, categories []model.DataCategory, retentionDays int, policies []model.RetentionPolicy) (*model.ComplianceReport, error) {
	report := &model.ComplianceReport{
		ID:          uuid.New().String(),
		MigrationID: migrationID,
		Kind:        "retention",
		GeneratedAt: a.now().UTC(),
	}

	caps := make(map[model.DataCategory]int, len(policies))
	for _, p := range policies {
		caps[p.Category] = p.MaxDays
	}

	for _, cat := range categories {
		max, ok := caps[cat]
		if !ok || retentionDays <= max {
			continue
		}
		report.Violations = append(report.Violations, model.ComplianceViolation{
			Category: cat,
			Reason:   "retention exceeds policy cap",
		})
	}

	a.record(ctx, migrationID, model.AuditConsentCheck, map[string]any{
		"check":          "retention",
		"retention_days": retentionDays,
		"violations":     len(report.Violations),
	}, categories)

	return report, nil
}

// record writes a check result to the trail. Trail failures are logged,
// not fatal: a failed write must not unblock or block a migration on
// its own.
func (a *Auditor) record(ctx context.Context, migrationID string, op model.AuditOperation, details map[string]any, cats []model.DataCategory) {
	if a.trail == nil {
		return
	}
	_, err := a.trail.Append(ctx, model.AuditLogEntry{
		MigrationID:    migrationID,
		Operation:      op,
		AgentName:      "compliance-auditor",
		Details:        details,
		DataCategories: cats,
	})
	if err != nil {
		zap.L().Error("audit: record check failed",
			zap.String("migration_id", migrationID),
			zap.Error(err),
		)
	}
}
