package store

// statistics_meta / statistics follow the recorder layout: one metadata row
// per statistic id, hourly rows keyed by (metadata_id, start_ts) with epoch
// second timestamps.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS accumulator_state (
    namespace            TEXT NOT NULL,
    key                  TEXT NOT NULL,
    version              INTEGER NOT NULL,
    total_cost           REAL NOT NULL DEFAULT 0,
    last_energy          REAL,
    updated_at           TEXT NOT NULL,
    PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS statistics_meta (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    statistic_id         TEXT NOT NULL UNIQUE,
    source               TEXT NOT NULL,
    unit_of_measurement  TEXT,
    has_mean             INTEGER NOT NULL DEFAULT 0,
    has_sum              INTEGER NOT NULL DEFAULT 0,
    name                 TEXT
);

CREATE TABLE IF NOT EXISTS statistics (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    created_ts           REAL NOT NULL,
    metadata_id          INTEGER NOT NULL REFERENCES statistics_meta(id) ON DELETE CASCADE,
    start_ts             REAL NOT NULL,
    mean                 REAL,
    state                REAL,
    sum                  REAL,
    UNIQUE (metadata_id, start_ts)
);

CREATE INDEX IF NOT EXISTS idx_statistics_start ON statistics(metadata_id, start_ts);
`
