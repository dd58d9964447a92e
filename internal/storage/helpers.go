package storage

import (
	"database/sql"
	"errors"

	"github.com/fluidrower/rowmon/internal/session"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError is deferred around a transaction; after a successful
// commit the rollback reports ErrTxDone, which is not a failure.
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner, data *SessionData) error {
	return row.Scan(
		&data.ID,
		&data.StartTime,
		&data.DeviceType,
		&data.Config,
		&data.TotalPauseSecs,
		&data.EndedAt,
	)
}

func toStrokeData(sessionID int64, st session.Stroke) strokeData {
	return strokeData{
		SessionID:       sessionID,
		Seq:             int64(st.Seq),
		RecordedAt:      st.RecordedAt.UTC(),
		DistanceM:       st.DistanceM,
		DurationSecs:    st.DurationSecs,
		Pace500mSecs:    int64(st.Pace500mSecs),
		StrokesPerMin:   int64(st.StrokesPerMin),
		PowerWatts:      int64(st.PowerWatts),
		CaloriesPerHour: int64(st.CaloriesPerHour),
		Resistance:      int64(st.Resistance),
		Anomaly:         st.Anomaly,
	}
}

func fromStrokeData(data strokeData) session.Stroke {
	return session.Stroke{
		Seq:             int(data.Seq),
		RecordedAt:      data.RecordedAt,
		DistanceM:       data.DistanceM,
		DurationSecs:    data.DurationSecs,
		Pace500mSecs:    int(data.Pace500mSecs),
		StrokesPerMin:   int(data.StrokesPerMin),
		PowerWatts:      int(data.PowerWatts),
		CaloriesPerHour: int(data.CaloriesPerHour),
		Resistance:      int(data.Resistance),
		Anomaly:         data.Anomaly,
	}
}
