package model_test

import (
	"testing"
	"time"

	"github.com/kantan-tools/kscrape/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseISODuration(t *testing.T) {
	t.Parallel()
	type then struct {
		d   time.Duration
		err error
	}
	cases := []struct {
		given string
		then  then
	}{
		{"P1D", then{24 * time.Hour, nil}},
		{"PT5M", then{5 * time.Minute, nil}},
		{"PT1H30M", then{90 * time.Minute, nil}},
		{"PT0.5S", then{500 * time.Millisecond, nil}},
		{"P1DT2H", then{26 * time.Hour, nil}},
		{"PT-1H", then{-time.Hour, nil}},
		{"P2M", then{0, model.ErrISOFormat}},
		{"PT", then{0, model.ErrISOFormat}},
		{"P1DT", then{0, model.ErrISOFormat}},
		{"5m", then{0, model.ErrISOFormat}},
		{"", then{0, model.ErrISOFormat}},
	}

	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			t.Parallel()
			d, err := model.ParseISODuration(tc.given)
			if tc.then.err != nil {
				require.ErrorIs(t, err, tc.then.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then.d, d)
		})
	}
}

func TestParseCron(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		interval time.Duration
		wantErr  bool
	}{
		{"every 15 minutes", "*/15 * * * *", 15 * time.Minute, false},
		{"hourly macro", "@hourly", time.Hour, false},
		{"every macro", "@every 5m", 5 * time.Minute, false},
		{"six fields", "0 */2 * * * *", 0, true},
		{"out of range", "* * 32 * *", 0, true},
		{"empty", "  ", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			d, err := model.ParseCron(tc.given)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.interval, d)
		})
	}
}
