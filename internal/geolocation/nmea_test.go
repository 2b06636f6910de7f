package geolocation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fieldtrack/internal/serialmux"
)

func gga(body string) string { return serialmux.FormatSentence("GPGGA," + body) }
func rmc(body string) string { return serialmux.FormatSentence("GPRMC," + body) }

func TestDecoder_GGA(t *testing.T) {
	d := NewDecoder(5)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	pos, ok, err := d.Decode(gga("092750.250,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,"), now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 53.361336, pos.Lat, 1e-6)
	assert.InDelta(t, -6.505620, pos.Lon, 1e-6)
	assert.InDelta(t, 5.15, pos.Accuracy, 1e-9)
	assert.True(t, pos.HasAltitude)
	assert.InDelta(t, 61.7, pos.Altitude, 1e-9)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 27, 50, 250*int(time.Millisecond), time.UTC), pos.Timestamp)
}

func TestDecoder_RMCSuppliesDate(t *testing.T) {
	d := NewDecoder(5)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	_, ok, err := d.Decode(rmc("092750.000,A,5321.6802,N,00630.3372,W,0.02,31.66,280511,,,A"), now)
	require.NoError(t, err)
	assert.False(t, ok, "RMC alone does not produce a position")

	pos, ok, err := d.Decode(gga("092751.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,"), now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2011, 5, 28, 9, 27, 51, 0, time.UTC), pos.Timestamp)
}

func TestDecoder_MidnightRollover(t *testing.T) {
	const fix = "5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,"

	t.Run("late fix after host midnight", func(t *testing.T) {
		now := time.Date(2026, 10, 19, 0, 0, 1, 0, time.UTC)
		pos, ok, err := NewDecoder(5).Decode(gga("235959.00,"+fix), now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC), pos.Timestamp)
	})

	t.Run("early fix before host midnight", func(t *testing.T) {
		now := time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC)
		pos, ok, err := NewDecoder(5).Decode(gga("000001.00,"+fix), now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 1, 0, time.UTC), pos.Timestamp)
	})

	t.Run("stale RMC date", func(t *testing.T) {
		d := NewDecoder(5)
		now := time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC)
		_, _, err := d.Decode(rmc("235959.000,A,5321.6802,N,00630.3372,W,0.02,31.66,181026,,,A"), now)
		require.NoError(t, err)

		now = now.Add(2 * time.Second)
		pos, ok, err := d.Decode(gga("000001.00,"+fix), now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 1, 0, time.UTC), pos.Timestamp)
	})
}

func TestDecoder_SkipsAndErrors(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	t.Run("invalid fix", func(t *testing.T) {
		_, ok, err := NewDecoder(5).Decode(gga("092750.000,,,,,0,0,,,M,,M,,"), now)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing altitude", func(t *testing.T) {
		pos, ok, err := NewDecoder(5).Decode(gga("092750.000,5321.6802,N,00630.3372,W,1,8,1.03,,M,,M,,"), now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, pos.HasAltitude)
	})

	t.Run("missing hdop", func(t *testing.T) {
		pos, ok, err := NewDecoder(5).Decode(gga("092750.000,5321.6802,N,00630.3372,W,1,8,,61.7,M,,M,,"), now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, math.IsInf(pos.Accuracy, 1))
	})

	t.Run("missing time", func(t *testing.T) {
		pos, ok, err := NewDecoder(5).Decode(gga(",5321.6802,N,00630.3372,W,1,8,1.0,61.7,M,,M,,"), now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, now, pos.Timestamp)
	})

	t.Run("bad checksum", func(t *testing.T) {
		_, ok, err := NewDecoder(5).Decode("$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*00", now)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("other sentence", func(t *testing.T) {
		_, ok, err := NewDecoder(5).Decode(serialmux.FormatSentence("GPGSV,3,1,11,10,63,137,17"), now)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}
