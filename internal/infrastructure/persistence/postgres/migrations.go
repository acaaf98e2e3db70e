package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create sessions table
-- Version: 001

-- Main tracked sessions table
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(128) PRIMARY KEY,
    classroom VARCHAR(128) NOT NULL,
    display_name VARCHAR(100) NOT NULL,
    focus_score INTEGER NOT NULL DEFAULT 10,
    history JSONB NOT NULL DEFAULT '[]'::jsonb,
    last_raw_score INTEGER NOT NULL DEFAULT 3,
    last_description TEXT NOT NULL DEFAULT '',
    last_short_description TEXT NOT NULL DEFAULT '',
    last_model_suggestion VARCHAR(30) NOT NULL DEFAULT '',
    last_observed_at TIMESTAMP WITH TIME ZONE,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- Constraints for data integrity
    CONSTRAINT valid_focus_score CHECK (focus_score >= 0 AND focus_score <= 10),
    CONSTRAINT valid_last_raw_score CHECK (last_raw_score >= 0 AND last_raw_score <= 5)
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_sessions_classroom ON sessions(classroom);
CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(classroom) WHERE active;
CREATE INDEX IF NOT EXISTS idx_sessions_last_updated ON sessions(last_updated DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_focus_score ON sessions(focus_score);

-- Updated_at trigger function for automatic timestamp updates
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

-- Apply trigger to sessions table
DROP TRIGGER IF EXISTS update_sessions_updated_at ON sessions;
CREATE TRIGGER update_sessions_updated_at
    BEFORE UPDATE ON sessions
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

const migration001Down = `
DROP TRIGGER IF EXISTS update_sessions_updated_at ON sessions;
DROP FUNCTION IF EXISTS update_updated_at_column();
DROP TABLE IF EXISTS sessions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE ASSIGNMENTS AND AGENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create assignments and agents tables
-- Version: 002

-- Assignments: what a classroom is supposed to be working on
CREATE TABLE IF NOT EXISTS assignments (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    classroom VARCHAR(128) NOT NULL,
    title VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    starts_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    ends_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_assignments_classroom ON assignments(classroom);
CREATE INDEX IF NOT EXISTS idx_assignments_classroom_starts ON assignments(classroom, starts_at DESC);

-- Enrolled capture agents
CREATE TABLE IF NOT EXISTS agents (
    id UUID PRIMARY KEY,
    session_id VARCHAR(128) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    hostname VARCHAR(255) NOT NULL,
    secret_hash BYTEA NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'enrolled',
    enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    last_seen_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_agent_status CHECK (status IN ('enrolled', 'revoked'))
);

CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_id);
CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status) WHERE status = 'enrolled';
`

const migration002Down = `
DROP TABLE IF EXISTS agents;
DROP TABLE IF EXISTS assignments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE OBSERVATION JOURNAL
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create observation journal
-- Version: 003
-- Purpose: append-only trail of every scored observation, for audits
-- and focus-over-time charts. Session rows keep only the rolling state.

CREATE TABLE IF NOT EXISTS observation_journal (
    id BIGSERIAL PRIMARY KEY,
    session_id VARCHAR(128) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    raw_score INTEGER NOT NULL,
    focus_score INTEGER NOT NULL,
    description TEXT NOT NULL,
    observed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT journal_valid_raw_score CHECK (raw_score >= 0 AND raw_score <= 5),
    CONSTRAINT journal_valid_focus_score CHECK (focus_score >= 0 AND focus_score <= 10)
);

CREATE INDEX IF NOT EXISTS idx_journal_session ON observation_journal(session_id);
CREATE INDEX IF NOT EXISTS idx_journal_session_observed ON observation_journal(session_id, observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_observed_at ON observation_journal(observed_at);
`

const migration003Down = `
DROP TABLE IF EXISTS observation_journal;
`
