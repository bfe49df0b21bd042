package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    country TEXT NOT NULL,
    channel TEXT NOT NULL,
    device_id TEXT NOT NULL,
    merchant_id TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(tenant_id, timestamp);
`

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS customer_profiles (
    customer_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    usual_amount_avg REAL NOT NULL,
    usual_hours TEXT NOT NULL,
    usual_countries TEXT NOT NULL,
    usual_devices TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (customer_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_profiles_tenant ON customer_profiles(tenant_id);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    rule TEXT NOT NULL,
    version TEXT NOT NULL,
    applicability TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_policies_tenant ON policies(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(tenant_id, enabled);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    tx_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    confidence REAL NOT NULL,
    risk_score REAL NOT NULL,
    signals TEXT NOT NULL,
    citations_internal TEXT NOT NULL,
    citations_external TEXT NOT NULL,
    agent_route TEXT NOT NULL,
    explanation_customer TEXT NOT NULL,
    explanation_audit TEXT NOT NULL,
    processing_ms INTEGER NOT NULL,
    case_id TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tx_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(tenant_id, decision);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(tenant_id, created_at);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS hitl_cases (
    case_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    decision_recommendation TEXT NOT NULL,
    confidence REAL NOT NULL,
    signals TEXT NOT NULL,
    citations_internal TEXT NOT NULL,
    citations_external TEXT NOT NULL,
    agent_route TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    created_by TEXT NOT NULL,
    reviewer_id TEXT,
    reviewer_decision TEXT,
    reviewer_notes TEXT,
    reviewed_at TIMESTAMP,
    PRIMARY KEY (case_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_cases_tenant ON hitl_cases(tenant_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON hitl_cases(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_cases_tx ON hitl_cases(tenant_id, transaction_id);
`

// schemaCaseSequences backs atomic case numbering. Case IDs are formatted
// from a per-tenant counter, so allocation must not read-then-write.
const schemaCaseSequences = `
CREATE TABLE IF NOT EXISTS hitl_sequences (
    tenant_id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaProfiles,
		schemaPolicies,
		schemaDecisions,
		schemaCases,
		schemaCaseSequences,
	}
}
