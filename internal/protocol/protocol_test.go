package protocol_test

import (
	"testing"

	"github.com/kantan-tools/kscrape/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	t.Parallel()
	type then struct {
		ok       bool
		progress protocol.Progress
	}
	cases := []struct {
		scenario string
		given    string
		then     then
	}{
		{"plain", "PROGRESS:45:Half done", then{true, protocol.Progress{Percent: 45, Message: "Half done"}}},
		{"trimmed", "PROGRESS:80:  logging in \r", then{true, protocol.Progress{Percent: 80, Message: "logging in"}}},
		{"prefixed", "[INFO] PROGRESS:20:open page", then{true, protocol.Progress{Percent: 20, Message: "open page"}}},
		{"not clamped", "PROGRESS:150:over", then{true, protocol.Progress{Percent: 150, Message: "over"}}},
		{"colon in text", "PROGRESS:5:step 1:2", then{true, protocol.Progress{Percent: 5, Message: "step 1:2"}}},
		{"missing text", "PROGRESS:45:", then{false, protocol.Progress{}}},
		{"negative", "PROGRESS:-1:x", then{false, protocol.Progress{}}},
		{"overflow", "PROGRESS:99999999999999999999999:x", then{false, protocol.Progress{}}},
		{"other", "CSV_FILE:schedule_2024_5.csv", then{false, protocol.Progress{}}},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			p, ok := protocol.ParseProgress(tc.given)
			require.Equal(t, tc.then.ok, ok)
			require.Equal(t, tc.then.progress, p)
		})
	}
}

func TestParseCSVFile(t *testing.T) {
	t.Parallel()
	name, ok := protocol.ParseCSVFile("CSV_FILE: schedule_2024_5_3.csv ")
	require.True(t, ok)
	require.Equal(t, "schedule_2024_5_3.csv", name)

	_, ok = protocol.ParseCSVFile("PROGRESS:90:writing")
	require.False(t, ok)

	_, ok = protocol.ParseCSVFile("CSV_FILE:   ")
	require.False(t, ok)
}

func TestDownloadURL(t *testing.T) {
	t.Parallel()
	require.Equal(t, "/api/download/schedule_2024_5.csv", protocol.DownloadURL("schedule_2024_5.csv"))
	require.Equal(t, "/api/download/a%2Fb.csv", protocol.DownloadURL("a/b.csv"))
}

func TestValidateFilename(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{
		"schedule_2024_5.csv",
		"schedule_2024_05.csv",
		"schedule_2024_5_31.csv",
	} {
		require.NoError(t, protocol.ValidateFilename(ok), ok)
	}
	for _, bad := range []string{
		"../schedule_2024_5.csv",
		"schedule_24_5.csv",
		"schedule_2024_5.csv.bak",
		"schedule_2024_123.csv",
		"schedule_2024_5_.csv",
		"",
	} {
		require.ErrorIs(t, protocol.ValidateFilename(bad), protocol.ErrInvalidFilename, bad)
	}
}
