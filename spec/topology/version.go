package topology

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Version identifies one membership/cache-shape epoch of the cluster.
// Major advances on every membership change, Minor on intra-version
// events such as a cache starting or stopping. The zero value sorts
// before every real version.
type Version struct {
	Major uint64
	Minor uint64
}

var Zero = Version{}

func (v Version) Compare(other Version) int {
	switch {
	case v.Major < other.Major:
		return -1
	case v.Major > other.Major:
		return 1
	case v.Minor < other.Minor:
		return -1
	case v.Minor > other.Minor:
		return 1
	default:
		return 0
	}
}

func (v Version) Before(other Version) bool {
	return v.Compare(other) < 0
}

func (v Version) After(other Version) bool {
	return v.Compare(other) > 0
}

// NextMajor opens a new membership epoch. Minor resets.
func (v Version) NextMajor() Version {
	return Version{Major: v.Major + 1}
}

// NextMinor advances within the current membership epoch.
func (v Version) NextMinor() Version {
	return Version{Major: v.Major, Minor: v.Minor + 1}
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

var _ zapcore.ObjectMarshaler = Version{}

func (v Version) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("major", v.Major)
	enc.AddUint64("minor", v.Minor)
	return nil
}

// ClockDeltaVersion orders clock-synchronization snapshots. Comparison
// is lexicographic on (topology version, sequence) so snapshots from
// different topology epochs are never conflated.
type ClockDeltaVersion struct {
	Version  Version
	Sequence uint64
}

func (c ClockDeltaVersion) Compare(other ClockDeltaVersion) int {
	if d := c.Version.Compare(other.Version); d != 0 {
		return d
	}
	switch {
	case c.Sequence < other.Sequence:
		return -1
	case c.Sequence > other.Sequence:
		return 1
	default:
		return 0
	}
}

func (c ClockDeltaVersion) String() string {
	return fmt.Sprintf("%s#%d", c.Version, c.Sequence)
}
