package storage

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    start_time       DATETIME NOT NULL,
    device_type      TEXT NOT NULL,
    config           TEXT,
    total_pause_secs REAL NOT NULL DEFAULT 0,
    ended_at         DATETIME
);

CREATE TABLE IF NOT EXISTS strokes (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id           INTEGER NOT NULL REFERENCES sessions (id),
    seq                  INTEGER NOT NULL,
    recorded_at          DATETIME NOT NULL,
    stroke_distance_m    REAL NOT NULL,
    stroke_duration_secs REAL NOT NULL,
    pace_500m_secs       INTEGER NOT NULL,
    strokes_per_min      INTEGER NOT NULL,
    power_watts          INTEGER NOT NULL,
    calories_per_hour    INTEGER NOT NULL,
    resistance_level     INTEGER NOT NULL,
    anomaly              INTEGER NOT NULL DEFAULT 0,
    UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS pauses (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL REFERENCES sessions (id),
    paused_at  DATETIME NOT NULL,
    resumed_at DATETIME
);`

const initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_strokes_session ON strokes (session_id, seq);
CREATE INDEX IF NOT EXISTS idx_pauses_session ON pauses (session_id);`

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time, device_type, config)
VALUES (?, ?, ?)`

	// Idempotent overwrite by (session_id, seq): at-least-once delivery from
	// retried flushes must not duplicate strokes.
	insertStrokeSQL = `
INSERT INTO strokes (session_id,
                     seq,
                     recorded_at,
                     stroke_distance_m,
                     stroke_duration_secs,
                     pace_500m_secs,
                     strokes_per_min,
                     power_watts,
                     calories_per_hour,
                     resistance_level,
                     anomaly)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id, seq) DO UPDATE SET
    recorded_at          = excluded.recorded_at,
    stroke_distance_m    = excluded.stroke_distance_m,
    stroke_duration_secs = excluded.stroke_duration_secs,
    pace_500m_secs       = excluded.pace_500m_secs,
    strokes_per_min      = excluded.strokes_per_min,
    power_watts          = excluded.power_watts,
    calories_per_hour    = excluded.calories_per_hour,
    resistance_level     = excluded.resistance_level,
    anomaly              = excluded.anomaly`

	insertPauseSQL = `
INSERT INTO pauses (session_id, paused_at, resumed_at)
VALUES (?, ?, ?)`

	finalizeSessionSQL = `
UPDATE sessions
SET total_pause_secs = ?,
    ended_at         = ?
WHERE id = ?`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    device_type,
    config,
    total_pause_secs,
    ended_at
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    device_type,
    config,
    total_pause_secs,
    ended_at
FROM sessions
ORDER BY start_time DESC`

	selectStrokesSQL = `
SELECT
    id,
    session_id,
    seq,
    recorded_at,
    stroke_distance_m,
    stroke_duration_secs,
    pace_500m_secs,
    strokes_per_min,
    power_watts,
    calories_per_hour,
    resistance_level,
    anomaly
FROM strokes
WHERE
    session_id = ?
ORDER BY seq`
)
