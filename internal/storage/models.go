package storage

import (
	"database/sql"
	"time"
)

// SessionData is one recorded rowing session as stored.
type SessionData struct {
	ID             int64
	StartTime      time.Time
	DeviceType     string
	Config         sql.NullString
	TotalPauseSecs float64
	EndedAt        sql.NullTime
}

// strokeData mirrors one row of the strokes table.
type strokeData struct {
	ID              int64
	SessionID       int64
	Seq             int64
	RecordedAt      time.Time
	DistanceM       float64
	DurationSecs    float64
	Pace500mSecs    int64
	StrokesPerMin   int64
	PowerWatts      int64
	CaloriesPerHour int64
	Resistance      int64
	Anomaly         bool
}
