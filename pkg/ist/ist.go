// Package ist handles India Standard Time wall-clock timestamps.
//
// User-facing creation times are persisted as naive TIMESTAMP values holding
// the IST wall clock (UTC+05:30). In Go they are carried as time.Time values
// located in Location so the offset is never lost.
package ist

import "time"

// Offset is the fixed IST offset from UTC.
const Offset = 5*time.Hour + 30*time.Minute

// Location is the fixed IST zone.
var Location = time.FixedZone("IST", int(Offset/time.Second))

// Now returns the current instant in IST, truncated to microseconds to match
// PostgreSQL TIMESTAMP precision.
func Now() time.Time {
	return In(time.Now())
}

// In converts t to IST.
func In(t time.Time) time.Time {
	return t.In(Location).Truncate(time.Microsecond)
}

// FromWall reinterprets a naive wall-clock value read from the database
// (pgx returns it located in UTC) as an IST time with the same wall clock.
func FromWall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), Location)
}

// FromWallPtr is FromWall for nullable columns.
func FromWallPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := FromWall(*t)
	return &v
}

// Wall returns the IST wall clock of t as a zone-less value suitable for a
// TIMESTAMP WITHOUT TIME ZONE parameter.
func Wall(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// WallPtr is Wall for nullable columns.
func WallPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := Wall(*t)
	return &v
}
