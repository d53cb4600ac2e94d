package logic

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/civicreport/internal/geoip"
)

func TestResolveClientFromUA(t *testing.T) {
	tests := []struct {
		name   string
		ua     string
		device string
		os     string
		bot    bool
	}{
		{
			name:   "Android phone",
			ua:     "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.91 Mobile Safari/537.36",
			device: "mobile",
			os:     "Android",
		},
		{
			name:   "iPhone",
			ua:     "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1",
			device: "mobile",
			os:     "iOS",
		},
		{
			name:   "Windows desktop",
			ua:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36",
			device: "desktop",
			os:     "Windows",
		},
		{
			name:   "Googlebot",
			ua:     "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			device: "desktop",
			bot:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := ResolveClientFromUA(tt.ua)
			assert.Equal(t, tt.device, cc.DeviceType)
			if tt.os != "" {
				assert.Contains(t, cc.OS, tt.os)
			}
			assert.Equal(t, tt.bot, cc.IsBot)
		})
	}
}

func TestResolveClientFromRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"net":"49.204.0.0/14","country":"IN"}]`), 0o600))
	g, err := geoip.Init(path)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "49.205.1.10, 10.0.0.1")
	cc := ResolveClientFromRequest(r, g)
	assert.Equal(t, "49.205.1.10", cc.IP)
	assert.Equal(t, "IN", cc.Country)
	assert.Equal(t, "other", cc.DeviceType)

	r = httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "8.8.8.8:1234"
	cc = ResolveClientFromRequest(r, nil)
	assert.Equal(t, "8.8.8.8", cc.IP)
	assert.Equal(t, "", cc.Country)
}

func TestParseFlexibleTime(t *testing.T) {
	cases := []struct {
		in       string
		want     time.Time
		dateOnly bool
	}{
		{"2026-03-05T10:30:00Z", time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC), false},
		{"2026-03-05 10:30:00", time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC), false},
		{"2026-03-05", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"05/03/2026", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"5-3-2026", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"05.03.2026", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), true},
	}
	for _, c := range cases {
		got, dateOnly, err := ParseFlexibleTime(c.in)
		require.NoError(t, err, c.in)
		assert.True(t, c.want.Equal(got), c.in)
		assert.Equal(t, c.dateOnly, dateOnly, c.in)
	}

	for _, bad := range []string{"", "yesterday", "31/02/2026", "2026/13/01"} {
		_, _, err := ParseFlexibleTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseRangeEnd(t *testing.T) {
	end, err := ParseRangeEnd("2026-03-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 23, 59, 59, 999999999, time.UTC), end)

	end, err = ParseRangeEnd("2026-03-05T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, end.Hour())
}
