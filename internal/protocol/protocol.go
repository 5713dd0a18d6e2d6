// Package protocol parses the line oriented protocol the scrape script
// writes to its standard output:
//
//	PROGRESS:<int>:<text>   progress update, text is the new status message
//	CSV_FILE:<text>         name of the produced artifact
//
// Every other line is inert.
package protocol

import (
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const downloadPrefix = "/api/download/"

var (
	ErrInvalidFilename = errors.New("invalid filename")

	progressRx = regexp.MustCompile(`PROGRESS:(\d+):(.+)`)
	csvFileRx  = regexp.MustCompile(`CSV_FILE:(.+)`)
	artifactRx = regexp.MustCompile(`^schedule_\d{4}_\d{1,2}(_\d{1,2})?\.csv$`)
)

// Progress is a parsed PROGRESS line. Percent is reported as is: it is not
// clamped to 0-100 and may be lower than a previous value.
type Progress struct {
	Percent int
	Message string
}

// ParseProgress returns the progress update carried by line, if any
func ParseProgress(line string) (Progress, bool) {
	m := progressRx.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		// does not fit into int
		return Progress{}, false
	}
	return Progress{Percent: pct, Message: strings.TrimSpace(m[2])}, true
}

// ParseCSVFile returns the artifact name announced by line, if any
func ParseCSVFile(line string) (string, bool) {
	m := csvFileRx.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	if name == "" {
		return "", false
	}
	return name, true
}

// DownloadURL derives the retrieval path of an artifact
func DownloadURL(filename string) string {
	return downloadPrefix + url.PathEscape(filename)
}

// ValidateFilename accepts only schedule_YYYY_M[M].csv and
// schedule_YYYY_M[M]_D[D].csv, so a request can't escape the artifact
// directory.
func ValidateFilename(name string) error {
	if !artifactRx.MatchString(name) {
		return ErrInvalidFilename
	}
	return nil
}
