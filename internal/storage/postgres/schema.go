package postgres

// Schema creates all tables and the tsvector plumbing. Statements are
// idempotent so the schema can be applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id               TEXT PRIMARY KEY,
    content          TEXT NOT NULL,
    category         TEXT NOT NULL CHECK (category IN ('fact','preference','personality','skill','goal')),
    importance       DOUBLE PRECISION NOT NULL CHECK (importance >= 0.0 AND importance <= 1.0),
    access_count     INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    archived         BOOLEAN NOT NULL DEFAULT FALSE,
    content_tsv      tsvector
);

CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category, archived);
CREATE INDEX IF NOT EXISTS idx_memories_tsv ON memories USING GIN(content_tsv);

-- Keep content_tsv in sync. A trigger rather than a generated column so the
-- text search configuration can change without a table rewrite.
CREATE OR REPLACE FUNCTION memories_tsv_update() RETURNS trigger AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english', COALESCE(NEW.content, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memories_tsv_trigger ON memories;
CREATE TRIGGER memories_tsv_trigger
    BEFORE INSERT OR UPDATE OF content ON memories
    FOR EACH ROW EXECUTE FUNCTION memories_tsv_update();

CREATE TABLE IF NOT EXISTS profile_attributes (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS goals (
    id          BIGSERIAL PRIMARY KEY,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    deadline    TIMESTAMPTZ,
    priority    TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low','medium','high')),
    status      TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','completed','archived')),
    progress    INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);

CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT PRIMARY KEY,
    started_at   TIMESTAMPTZ NOT NULL,
    ended_at     TIMESTAMPTZ,
    summary      TEXT,
    window_start BIGINT NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_open ON sessions((1)) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS turns (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    role       TEXT NOT NULL CHECK (role IN ('user','assistant')),
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    archived   BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);

CREATE TABLE IF NOT EXISTS reminders (
    id         BIGSERIAL PRIMARY KEY,
    content    TEXT NOT NULL,
    remind_at  TIMESTAMPTZ NOT NULL,
    recurrence TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','triggered','dismissed')),
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, remind_at);
`

// MigrationVector adds the embedding column once the pgvector extension is
// confirmed available.
const MigrationVector = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding vector(768);
`
