// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, customer_id, amount, currency,
			country, channel, device_id, merchant_id,
			timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.CustomerID,
		tx.Amount, tx.Currency,
		tx.Country, tx.Channel, tx.DeviceID, tx.MerchantID,
		tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		SELECT id, tenant_id, customer_id, amount, currency,
		       country, channel, device_id, merchant_id,
		       timestamp, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.CustomerID,
		&tx.Amount, &tx.Currency,
		&tx.Country, &tx.Channel, &tx.DeviceID, &tx.MerchantID,
		&tx.Timestamp, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "transaction", ID: txID}
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// CountTransactionsByCustomer counts a customer's transactions since a point
// in time. Used for velocity signals.
func (r *SQLRepository) CountTransactionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		SELECT COUNT(*) FROM transactions
		WHERE tenant_id = ? AND customer_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// SaveProfile stores or updates a customer profile with tenant isolation.
func (r *SQLRepository) SaveProfile(ctx context.Context, tenantID string, profile *domain.CustomerProfile) error {
	if tenantID == "" {
		return &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	countries, _ := json.Marshal(profile.UsualCountries)
	devices, _ := json.Marshal(profile.UsualDevices)
	now := time.Now().UTC()

	query := `
		INSERT INTO customer_profiles (
			customer_id, tenant_id, usual_amount_avg, usual_hours,
			usual_countries, usual_devices, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id, tenant_id) DO UPDATE SET
			usual_amount_avg = excluded.usual_amount_avg,
			usual_hours = excluded.usual_hours,
			usual_countries = excluded.usual_countries,
			usual_devices = excluded.usual_devices,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		profile.CustomerID, tenantID, profile.UsualAmountAvg, profile.UsualHours,
		string(countries), string(devices), now,
	)
	return err
}

// GetProfile retrieves a customer profile with tenant isolation.
func (r *SQLRepository) GetProfile(ctx context.Context, tenantID string, customerID string) (*domain.CustomerProfile, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		SELECT customer_id, tenant_id, usual_amount_avg, usual_hours,
		       usual_countries, usual_devices, updated_at
		FROM customer_profiles
		WHERE tenant_id = ? AND customer_id = ?
	`

	var p domain.CustomerProfile
	var countries, devices string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID).Scan(
		&p.CustomerID, &p.TenantID, &p.UsualAmountAvg, &p.UsualHours,
		&countries, &devices, &p.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "profile", ID: customerID}
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(countries), &p.UsualCountries)
	json.Unmarshal([]byte(devices), &p.UsualDevices)

	return &p, nil
}

// SavePolicy stores a policy configuration with tenant isolation.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, policy *domain.PolicyConfig) error {
	if tenantID == "" {
		return &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policies (
			id, tenant_id, rule, version, applicability, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			rule = excluded.rule,
			applicability = excluded.applicability,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, tenantID, policy.Rule, policy.Version,
		policy.Applicability, enabled, now, now,
	)
	return err
}

// GetPolicy retrieves the latest enabled version of a policy.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, policyID string) (*domain.PolicyConfig, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		SELECT id, tenant_id, rule, version, applicability, enabled, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var p domain.PolicyConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyID).Scan(
		&p.ID, &p.TenantID, &p.Rule, &p.Version, &p.Applicability, &enabled,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "policy", ID: policyID}
	}
	if err != nil {
		return nil, err
	}

	p.Enabled = enabled == 1
	return &p, nil
}

// ListPolicies retrieves all enabled policies for a tenant.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.PolicyConfig, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		SELECT id, tenant_id, rule, version, applicability, enabled, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.PolicyConfig
	for rows.Next() {
		var p domain.PolicyConfig
		var enabled int

		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Rule, &p.Version, &p.Applicability, &enabled,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}

		p.Enabled = enabled == 1
		policies = append(policies, &p)
	}

	return policies, rows.Err()
}

// SaveDecision stores a decision record with tenant isolation.
func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, rec *domain.DecisionRecord) error {
	if tenantID == "" {
		return &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	signals, _ := json.Marshal(rec.Signals)
	citInternal, _ := json.Marshal(rec.CitationsInternal)
	citExternal, _ := json.Marshal(rec.CitationsExternal)

	query := `
		INSERT INTO decisions (
			tx_id, tenant_id, decision, confidence, risk_score,
			signals, citations_internal, citations_external,
			agent_route, explanation_customer, explanation_audit,
			processing_ms, case_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.TransactionID, tenantID, rec.Decision, rec.Confidence, rec.RiskScore,
		string(signals), string(citInternal), string(citExternal),
		rec.AgentRoute, rec.ExplanationCustomer, rec.ExplanationAudit,
		rec.ProcessingTimeMs, rec.CaseID, rec.CreatedAt,
	)
	return err
}

// GetDecision retrieves a decision record by transaction ID.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, txID string) (*domain.DecisionRecord, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		SELECT tx_id, tenant_id, decision, confidence, risk_score,
		       signals, citations_internal, citations_external,
		       agent_route, explanation_customer, explanation_audit,
		       processing_ms, case_id, created_at
		FROM decisions
		WHERE tenant_id = ? AND tx_id = ?
	`

	var rec domain.DecisionRecord
	var signals, citInternal, citExternal string
	var caseID sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&rec.TransactionID, &rec.TenantID, &rec.Decision, &rec.Confidence, &rec.RiskScore,
		&signals, &citInternal, &citExternal,
		&rec.AgentRoute, &rec.ExplanationCustomer, &rec.ExplanationAudit,
		&rec.ProcessingTimeMs, &caseID, &rec.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "decision", ID: txID}
	}
	if err != nil {
		return nil, err
	}

	rec.CaseID = caseID.String
	json.Unmarshal([]byte(signals), &rec.Signals)
	json.Unmarshal([]byte(citInternal), &rec.CitationsInternal)
	json.Unmarshal([]byte(citExternal), &rec.CitationsExternal)

	return &rec, nil
}

// NextCaseSequence atomically allocates the next case number for a tenant.
// The upsert-and-return runs as a single statement so concurrent callers
// never observe the same value.
func (r *SQLRepository) NextCaseSequence(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		INSERT INTO hitl_sequences (tenant_id, seq) VALUES (?, 1)
		ON CONFLICT(tenant_id) DO UPDATE SET seq = hitl_sequences.seq + 1
		RETURNING seq
	`

	var seq int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate case sequence: %w", err)
	}
	return seq, nil
}

// SaveCase stores a HITL case with tenant isolation.
func (r *SQLRepository) SaveCase(ctx context.Context, tenantID string, c *domain.HITLCase) error {
	if tenantID == "" {
		return &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	signals, _ := json.Marshal(c.Signals)
	citInternal, _ := json.Marshal(c.CitationsInternal)
	citExternal, _ := json.Marshal(c.CitationsExternal)

	query := `
		INSERT INTO hitl_cases (
			case_id, tenant_id, transaction_id, decision_recommendation,
			confidence, signals, citations_internal, citations_external,
			agent_route, status, created_at, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.CaseID, tenantID, c.TransactionID, c.DecisionRecommendation,
		c.Confidence, string(signals), string(citInternal), string(citExternal),
		c.AgentRoute, c.Status, c.CreatedAt, c.CreatedBy,
	)
	return err
}

// GetCase retrieves a HITL case by ID with tenant isolation.
func (r *SQLRepository) GetCase(ctx context.Context, tenantID string, caseID string) (*domain.HITLCase, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := caseSelect + ` WHERE tenant_id = ? AND case_id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "case", ID: caseID}
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCases retrieves HITL cases for a tenant, optionally filtered by status.
func (r *SQLRepository) ListCases(ctx context.Context, tenantID string, status string) ([]*domain.HITLCase, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := caseSelect + ` WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.HITLCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

// ApplyReview transitions a pending case in a single compare-and-set
// update. A case that exists but is no longer pending yields a conflict.
func (r *SQLRepository) ApplyReview(ctx context.Context, tenantID string, caseID string, newStatus string, review *domain.HITLReview, reviewedAt time.Time) error {
	if tenantID == "" {
		return &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		UPDATE hitl_cases
		SET status = ?, reviewer_id = ?, reviewer_decision = ?, reviewer_notes = ?, reviewed_at = ?
		WHERE tenant_id = ? AND case_id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		newStatus, review.ReviewerID, review.Decision, review.Notes, reviewedAt,
		tenantID, caseID, domain.CaseStatusPending,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Nothing updated: distinguish missing case from non-pending case.
	var status string
	err = r.db.QueryRowContext(ctx,
		r.rebind(`SELECT status FROM hitl_cases WHERE tenant_id = ? AND case_id = ?`),
		tenantID, caseID,
	).Scan(&status)

	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Kind: "case", ID: caseID}
	}
	if err != nil {
		return err
	}

	return &domain.ConflictError{Kind: "case", ID: caseID, Reason: "already reviewed, status is " + status}
}

// CaseStatistics summarizes case counts by status.
func (r *SQLRepository) CaseStatistics(ctx context.Context, tenantID string) (*domain.HITLStatistics, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantID", Reason: "is required"}
	}

	query := `
		SELECT status, COUNT(*) FROM hitl_cases
		WHERE tenant_id = ?
		GROUP BY status
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.HITLStatistics{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch status {
		case domain.CaseStatusPending:
			stats.Pending = count
		case domain.CaseStatusApproved:
			stats.Approved = count
		case domain.CaseStatusRejected:
			stats.Rejected = count
		case domain.CaseStatusInReview:
			stats.InReview = count
		}
	}

	return stats, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const caseSelect = `
	SELECT case_id, tenant_id, transaction_id, decision_recommendation,
	       confidence, signals, citations_internal, citations_external,
	       agent_route, status, created_at, created_by,
	       reviewer_id, reviewer_decision, reviewer_notes, reviewed_at
	FROM hitl_cases`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*domain.HITLCase, error) {
	var c domain.HITLCase
	var signals, citInternal, citExternal string
	var reviewerID, reviewerDecision, reviewerNotes sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&c.CaseID, &c.TenantID, &c.TransactionID, &c.DecisionRecommendation,
		&c.Confidence, &signals, &citInternal, &citExternal,
		&c.AgentRoute, &c.Status, &c.CreatedAt, &c.CreatedBy,
		&reviewerID, &reviewerDecision, &reviewerNotes, &reviewedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ReviewerID = reviewerID.String
	c.ReviewerDecision = reviewerDecision.String
	c.ReviewerNotes = reviewerNotes.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		c.ReviewedAt = &t
	}

	json.Unmarshal([]byte(signals), &c.Signals)
	json.Unmarshal([]byte(citInternal), &c.CitationsInternal)
	json.Unmarshal([]byte(citExternal), &c.CitationsExternal)

	return &c, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
