package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionCompare(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0, Version{Major: 3, Minor: 2}.Compare(Version{Major: 3, Minor: 2}))
	assert.Equal(-1, Version{Major: 2, Minor: 9}.Compare(Version{Major: 3}))
	assert.Equal(1, Version{Major: 3, Minor: 1}.Compare(Version{Major: 3}))

	assert.True(Zero.Before(Version{Major: 1}))
	assert.True(Version{Major: 1, Minor: 1}.After(Version{Major: 1}))
	assert.False(Version{Major: 1}.After(Version{Major: 1}))
}

func TestVersionAdvance(t *testing.T) {
	assert := assert.New(t)

	v := Version{Major: 4, Minor: 7}
	assert.Equal(Version{Major: 5}, v.NextMajor(), "major bump resets minor")
	assert.Equal(Version{Major: 4, Minor: 8}, v.NextMinor())
	assert.True(v.NextMinor().Before(v.NextMajor()))
	assert.Equal("4.7", v.String())
}

func TestClockDeltaVersionCompare(t *testing.T) {
	assert := assert.New(t)

	base := ClockDeltaVersion{Version: Version{Major: 2}, Sequence: 10}
	assert.Equal(0, base.Compare(ClockDeltaVersion{Version: Version{Major: 2}, Sequence: 10}))
	assert.Equal(-1, base.Compare(ClockDeltaVersion{Version: Version{Major: 2}, Sequence: 11}))
	// topology version dominates the sequence
	assert.Equal(-1, base.Compare(ClockDeltaVersion{Version: Version{Major: 3}, Sequence: 1}))
	assert.Equal(1, base.Compare(ClockDeltaVersion{Version: Version{Major: 1}, Sequence: 99}))
	assert.Equal("2.0#10", base.String())
}
