package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const timestampStorageFormat = "2006-01-02 15:04:05.999999-07:00"

// Time wraps time.Time so that JSON marshaling always produces ISO-8601 UTC with a trailing
// "Z", and so the Run Index's sqlite table can round-trip the same value.
type Time struct {
	time.Time
}

func NewTime(t time.Time) Time {
	return Time{Time: t.UTC().Round(time.Microsecond)}
}

func NewTimePtr(t time.Time) *Time {
	newTime := NewTime(t)
	return &newTime
}

func (s *Time) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	switch t := src.(type) {
	case time.Time:
		*s = NewTime(t)
	case string:
		parsedTime, err := time.Parse(timestampStorageFormat, t)
		if err != nil {
			return errors.Wrap(err, "error parsing time")
		}
		*s = Time{Time: parsedTime.UTC()}
	default:
		return fmt.Errorf("unsupported type for time: %[1]T (%[1]v)", src)
	}
	return nil
}

func (s Time) Value() (driver.Value, error) {
	return s.Format(timestampStorageFormat), nil
}
