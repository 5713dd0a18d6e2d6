package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseCron parses a 5 field cron expression or a macro like @hourly and
// returns the interval between two consecutive runs.
func ParseCron(expr string) (time.Duration, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return 0, fmt.Errorf("empty cron expression")
	}

	var schedule cron.Schedule
	var err error
	if strings.HasPrefix(e, "@") {
		schedule, err = cron.ParseStandard(e)
	} else {
		parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		schedule, err = parser5.Parse(e)
	}
	if err != nil {
		return 0, err
	}
	next1 := schedule.Next(time.Now())
	next2 := schedule.Next(next1)
	return next2.Sub(next1), nil
}

var isoDurationRx = regexp.MustCompile(`^P((?P<day>\d+)D)?(T?(?:(?P<hour>[+-]?\d+)H)?(?:(?P<minute>[+-]?\d+)M)?(?:(?P<second>[+-]?\d+(?:[.,]\d+)?)S)?)?$`)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// ParseISODuration parses the day and time part of ISO8601 durations, like
// P1D or PT5M. Years, months and weeks are not supported as they have no fixed
// length.
func ParseISODuration(dur string) (time.Duration, error) {
	if dur == "" || dur == "P" || dur == "PT" || !isoDurationRx.MatchString(dur) {
		return 0, ErrISOFormat
	}
	match := isoDurationRx.FindStringSubmatch(dur)

	// P2M is a month, not minutes
	hasT := strings.Contains(dur, "T")
	var hasHMS bool

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if i == 0 || name == "" || part == "" {
			continue
		}

		num, frac, err := splitNumber(part)
		if err != nil {
			return 0, err
		}
		var unit time.Duration
		switch name {
		case "day":
			unit = 24 * time.Hour
		case "hour":
			hasHMS = true
			hasT = true
			unit = time.Hour
		case "minute":
			hasHMS = true
			if !hasT {
				return 0, ErrISOFormat
			}
			unit = time.Minute
		case "second":
			hasHMS = true
			unit = time.Second
		default:
			return 0, fmt.Errorf("unknown component %s", name)
		}
		ret += time.Duration(num) * unit
		if num >= 0 {
			ret += time.Duration(frac * float64(unit))
		} else {
			ret -= time.Duration(frac * float64(unit))
		}
	}

	if hasT && !hasHMS {
		return 0, ErrISOFormat
	}
	return ret, nil
}

func splitNumber(s string) (num int, frac float64, err error) {
	s = strings.Replace(s, ",", ".", 1)
	a, b, ok := strings.Cut(s, ".")
	if ok {
		if len(b) > 9 {
			return 0, 0, ErrISOFormat
		}
		var f int
		f, err = strconv.Atoi(b)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing fraction: %w", err)
		}
		if f != 0 {
			frac = float64(f) / math.Pow10(len(b))
		}
	}
	num, err = strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing number: %w", err)
	}
	return num, frac, nil
}
