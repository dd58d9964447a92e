// Package storage persists rowing sessions, stroke records and pause
// intervals in a SQLite database. Writes go through a WAL-mode connection so
// a partial flush never corrupts previously committed strokes.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fluidrower/rowmon/internal/session"
)

// Store handles database operations. It keeps separate read and write
// connections, each opened lazily and guarded by sync.Once.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store backed by the SQLite database at dbPath. The schema is
// initialized on first write.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession inserts a new session row and returns its ID. config is
// stored alongside for later inspection; it may be a string, raw bytes or
// anything JSON-marshalable.
func (s *Store) CreateSession(ctx context.Context, startedAt time.Time, deviceType string, config any) (sessionID int64, err error) {
	var configData sql.NullString

	if config != nil {
		switch v := config.(type) {
		case string:
			configData.Valid = true
			configData.String = v

		case []byte:
			configData.Valid = true
			configData.String = string(v)

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				err = fmt.Errorf("marshaling config: %w", err)
				return
			}

			configData.Valid = true
			configData.String = string(p)
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, startedAt.UTC(), deviceType, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

// AppendStrokes durably writes a batch of stroke records in a single
// transaction. Strokes are keyed by (session_id, seq) with idempotent
// overwrite, so a retried flush after an ambiguous failure is safe.
func (s *Store) AppendStrokes(ctx context.Context, sessionID int64, strokes []session.Stroke) (err error) {
	if len(strokes) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertStrokeSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, st := range strokes {
		data := toStrokeData(sessionID, st)
		if _, err = stmt.ExecContext(
			ctx,
			data.SessionID,
			data.Seq,
			data.RecordedAt,
			data.DistanceM,
			data.DurationSecs,
			data.Pace500mSecs,
			data.StrokesPerMin,
			data.PowerWatts,
			data.CaloriesPerHour,
			data.Resistance,
			data.Anomaly,
		); err != nil {
			return fmt.Errorf("inserting stroke %d: %w", data.Seq, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RecordPause persists a closed pause interval.
func (s *Store) RecordPause(ctx context.Context, sessionID int64, pause session.PauseInterval) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertPauseSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var resumedAt sql.NullTime
	if !pause.ResumedAt.IsZero() {
		resumedAt = sql.NullTime{Time: pause.ResumedAt.UTC(), Valid: true}
	}

	if _, err = stmt.ExecContext(ctx, sessionID, pause.PausedAt.UTC(), resumedAt); err != nil {
		return fmt.Errorf("inserting pause interval: %w", err)
	}
	return nil
}

// FinalizeSession marks the session as ended and records its pause total.
func (s *Store) FinalizeSession(ctx context.Context, sessionID int64, totalPauseSecs float64, endedAt time.Time) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, finalizeSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, totalPauseSecs, endedAt.UTC(), sessionID); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// Session returns a session by its ID.
func (s *Store) Session(ctx context.Context, id int64) (sess *SessionData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var data SessionData
	if err = scanSession(stmt.QueryRowContext(ctx, id), &data); err != nil {
		err = fmt.Errorf("scanning session: %w", err)
		return
	}
	return &data, nil
}

// Sessions returns all stored sessions, newest first.
func (s *Store) Sessions(ctx context.Context) (sessions []SessionData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data SessionData
		if err = scanSession(rows, &data); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, data)
	}
	err = rows.Err()
	return
}

// Strokes returns the stroke records of a session ordered by sequence number.
func (s *Store) Strokes(ctx context.Context, sessionID int64) (strokes []session.Stroke, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectStrokesSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying strokes: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data strokeData
		if err = rows.Scan(
			&data.ID,
			&data.SessionID,
			&data.Seq,
			&data.RecordedAt,
			&data.DistanceM,
			&data.DurationSecs,
			&data.Pace500mSecs,
			&data.StrokesPerMin,
			&data.PowerWatts,
			&data.CaloriesPerHour,
			&data.Resistance,
			&data.Anomaly,
		); err != nil {
			err = fmt.Errorf("scanning stroke: %w", err)
			return
		}
		strokes = append(strokes, fromStrokeData(data))
	}
	err = rows.Err()
	return
}

// Close builds the read indexes and closes both connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}
