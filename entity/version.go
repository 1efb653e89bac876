package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the server-assigned version stamp for a record. The zero value
// is "unversioned": a record the remote store has never confirmed. This is
// distinct from a version whose stamp happens to be small; use At to build
// a known version and IsZero to test for the unversioned state.
type Version struct {
	stamp int64
	known bool
}

// Unversioned returns the version of a record never confirmed by the remote store.
func Unversioned() Version {
	return Version{}
}

// At returns a known version with the given stamp.
func At(stamp int64) Version {
	return Version{stamp: stamp, known: true}
}

// IsZero returns true if this is the unversioned state.
func (v Version) IsZero() bool {
	return !v.known
}

// Stamp returns the raw stamp value. Only meaningful when !IsZero().
func (v Version) Stamp() int64 {
	return v.stamp
}

// Compare returns -1 if v is before other, 0 if equal, 1 if after.
// An unversioned value sorts before any known version.
func (v Version) Compare(other Version) int {
	switch {
	case !v.known && !other.known:
		return 0
	case !v.known:
		return -1
	case !other.known:
		return 1
	case v.stamp < other.stamp:
		return -1
	case v.stamp > other.stamp:
		return 1
	default:
		return 0
	}
}

func (v Version) String() string {
	if !v.known {
		return "unversioned"
	}
	return strconv.FormatInt(v.stamp, 10)
}

// MarshalJSON encodes a known version as its numeric stamp and the
// unversioned state as null, matching the remote store's lastUpdated field.
func (v Version) MarshalJSON() ([]byte, error) {
	if !v.known {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(v.stamp, 10)), nil
}

// UnmarshalJSON accepts a number, a numeric string, or null. The remote
// store is spreadsheet-backed and is not strict about cell types.
func (v *Version) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*v = Version{}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		if n == 0 {
			*v = Version{}
			return nil
		}
		*v = Version{stamp: n, known: true}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("invalid version value %s", s)
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version string %q: %w", str, err)
	}
	if n == 0 {
		*v = Version{}
		return nil
	}
	*v = Version{stamp: n, known: true}
	return nil
}
