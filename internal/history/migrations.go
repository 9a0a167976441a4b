package history

const schema = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    replays_dir TEXT NOT NULL,
    output_dir TEXT NOT NULL,
    reprocess BOOLEAN DEFAULT FALSE,
    total INTEGER DEFAULT 0,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    completed INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    abandoned BOOLEAN DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_batches_started_at ON batches(started_at);

CREATE TABLE IF NOT EXISTS jobs (
    batch_id TEXT NOT NULL REFERENCES batches(id),
    job_id INTEGER NOT NULL,
    input_path TEXT NOT NULL,
    output_path TEXT NOT NULL,
    status TEXT NOT NULL,
    exit_code INTEGER,
    stdout TEXT,
    stderr TEXT,
    duration_ms INTEGER,
    error TEXT,
    finished_at TIMESTAMP,
    PRIMARY KEY (batch_id, job_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`
