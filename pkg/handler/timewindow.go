package handler

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

var timeWindowPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}( \d{2}:\d{2})?$`)

var errInvalidDate = errors.New("invalid date")

// ParseTimeWindow converts a query bound into epoch seconds. Only the exact
// forms YYYY-MM-DD and YYYY-MM-DD HH:MM are accepted; the value is
// interpreted in the given location.
func ParseTimeWindow(value string, loc *time.Location) (int64, error) {
	if !timeWindowPattern.MatchString(value) {
		return 0, errInvalidDate
	}

	layout := dateLayout
	if len(value) > len(dateLayout) {
		layout = dateTimeLayout
	}

	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return 0, errInvalidDate
	}

	return t.Unix(), nil
}

// windowParameterError names the query parameter whose date failed to
// parse.
func windowParameterError(param string) *ParameterError {
	return &ParameterError{
		Message: fmt.Sprintf("`%s` parameter is not a valid date: use YYYY-MM-DD or YYYY-MM-DD HH:MM", param),
	}
}
