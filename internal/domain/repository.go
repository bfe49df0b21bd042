package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	CountTransactionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) (int64, error)

	// Customer profile operations
	SaveProfile(ctx context.Context, tenantID string, profile *CustomerProfile) error
	GetProfile(ctx context.Context, tenantID string, customerID string) (*CustomerProfile, error)

	// Policy operations
	SavePolicy(ctx context.Context, tenantID string, policy *PolicyConfig) error
	GetPolicy(ctx context.Context, tenantID string, policyID string) (*PolicyConfig, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*PolicyConfig, error)

	// Decision records
	SaveDecision(ctx context.Context, tenantID string, rec *DecisionRecord) error
	GetDecision(ctx context.Context, tenantID string, txID string) (*DecisionRecord, error)

	// HITL cases. NextCaseSequence must be atomic under concurrent callers.
	NextCaseSequence(ctx context.Context, tenantID string) (int64, error)
	SaveCase(ctx context.Context, tenantID string, c *HITLCase) error
	GetCase(ctx context.Context, tenantID string, caseID string) (*HITLCase, error)
	ListCases(ctx context.Context, tenantID string, status string) ([]*HITLCase, error)
	ApplyReview(ctx context.Context, tenantID string, caseID string, newStatus string, review *HITLReview, reviewedAt time.Time) error
	CaseStatistics(ctx context.Context, tenantID string) (*HITLStatistics, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
