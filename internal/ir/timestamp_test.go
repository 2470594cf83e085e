package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_Compare(t *testing.T) {
	base := Timestamp{Year: 2022, Month: 4, Day: 20, Hour: 1}

	tests := []struct {
		name  string
		other Timestamp
		want  int
	}{
		{"equal", base, 0},
		{"earlier year", Timestamp{Year: 2021, Month: 12, Day: 31, Hour: 23}, 1},
		{"later day", Timestamp{Year: 2022, Month: 4, Day: 21}, -1},
		{"earlier hour", Timestamp{Year: 2022, Month: 4, Day: 20, Hour: 0}, 1},
		{"later second", Timestamp{Year: 2022, Month: 4, Day: 20, Hour: 1, Second: 1}, -1},
		{"later nanosecond", Timestamp{Year: 2022, Month: 4, Day: 20, Hour: 1, Nanosecond: 1}, -1},
		{"zone ignored", Timestamp{Year: 2022, Month: 4, Day: 20, Hour: 1, TimeZone: 60}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Compare(tt.other))
		})
	}
	assert.True(t, base.After(Timestamp{Year: 2022, Month: 4, Day: 20}))
}

func TestTimestamp_BinaryRoundTrip(t *testing.T) {
	ts := Timestamp{Year: 2022, Month: 4, Day: 20, Hour: 13, Minute: 5, Second: 59, Nanosecond: 7, TimeZone: -480, Daylight: 1}

	b, err := ts.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, TimestampSize)
	assert.Equal(t, []byte{0xe6, 0x07, 4, 20, 13, 5, 59, 0}, b[:8])

	var back Timestamp
	require.NoError(t, back.UnmarshalBinary(b))
	assert.Equal(t, ts, back)
}

func TestTimestamp_UnmarshalShort(t *testing.T) {
	var ts Timestamp
	assert.Error(t, ts.UnmarshalBinary(make([]byte, 15)))
}

func TestTimestampFromTime(t *testing.T) {
	tm := time.Date(2022, time.April, 20, 1, 2, 3, 999, time.UTC)
	ts := TimestampFromTime(tm)
	assert.Equal(t, Timestamp{Year: 2022, Month: 4, Day: 20, Hour: 1, Minute: 2, Second: 3}, ts)
	assert.Equal(t, "2022-04-20T01:02:03Z", ts.String())
	assert.True(t, ts.Authenticated())
	assert.True(t, ts.Time().Equal(time.Date(2022, time.April, 20, 1, 2, 3, 0, time.UTC)))
}

func TestTimestamp_Validate(t *testing.T) {
	assert.NoError(t, Timestamp{Year: 2022, Month: 1, Day: 1}.Validate())
	assert.Error(t, Timestamp{Year: 2022, Month: 13, Day: 1}.Validate())
	assert.Error(t, Timestamp{Year: 2022, Month: 1, Day: 0}.Validate())
	assert.Error(t, Timestamp{Year: 2022, Month: 1, Day: 1, Hour: 24}.Validate())
}
