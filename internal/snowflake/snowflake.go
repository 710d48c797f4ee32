// Package snowflake decodes the creation instant embedded in Discord ids.
package snowflake

import (
	"errors"
	"strconv"
	"time"
)

// Epoch is the Discord epoch: the first second of 2015, in milliseconds.
const Epoch int64 = 1420070400000

// timestampShift is the number of low bits holding worker/process/sequence data.
const timestampShift = 22

// ErrInvalidID indicates an id that cannot carry a timestamp.
var ErrInvalidID = errors.New("invalid snowflake id")

// Time extracts the creation instant from a snowflake id.
// The result is deterministic: both the gateway and crawl paths must
// use this function so id-derived timestamps agree bit for bit.
func Time(id int64) (time.Time, error) {
	if id <= 0 {
		return time.Time{}, ErrInvalidID
	}
	ms := (id >> timestampShift) + Epoch
	return time.UnixMilli(ms).UTC(), nil
}

// Parse converts the upstream string form of an id into an int64.
// Returns ErrInvalidID for empty, non-numeric or non-positive values.
func Parse(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidID
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

// MustParse is Parse for ids already validated upstream. It maps
// malformed input to zero, which every consumer rejects.
func MustParse(s string) int64 {
	id, err := Parse(s)
	if err != nil {
		return 0
	}
	return id
}

// Format renders an id in the upstream string form.
func Format(id int64) string {
	return strconv.FormatInt(id, 10)
}

// FromTime builds the smallest snowflake whose decoded instant is not
// before t. Used to convert wall-clock bounds into cursor space.
func FromTime(t time.Time) int64 {
	ms := t.UnixMilli() - Epoch
	if ms < 0 {
		return 0
	}
	return ms << timestampShift
}
