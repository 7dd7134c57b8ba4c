package validity

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jszwec/csvutil"
)

// Status classifies a feed's validity window relative to "now" in the
// feed's own timezone.
type Status int

const (
	CurrentlyValid Status = iota
	NotYetValid
	Expired
)

func (s Status) String() string {
	switch s {
	case NotYetValid:
		return "not-yet-valid"
	case Expired:
		return "expired"
	default:
		return "currently-valid"
	}
}

// ErrNoTimezone is returned when the agency table declares no timezone.
// Validity can only be judged in feed-local time, so this is a hard
// error rather than a fallback to the fetcher's local time.
var ErrNoTimezone = errors.New("feed declares no agency timezone")

const dateFormat = "20060102"

type agencyRow struct {
	Timezone string `csv:"agency_timezone"`
}

type feedInfoRow struct {
	StartDate string `csv:"feed_start_date"`
	EndDate   string `csv:"feed_end_date"`
}

type calendarRow struct {
	EndDate string `csv:"end_date"`
}

type calendarDateRow struct {
	Date string `csv:"date"`
}

// Check classifies the GTFS archive at path. Absent tables are treated
// as empty; an absent or empty agency timezone is an error.
func Check(path string, now time.Time) (Status, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return CurrentlyValid, fmt.Errorf("opening archive: %w", err)
	}
	defer archive.Close()

	loc, err := feedTimezone(&archive.Reader)
	if err != nil {
		return CurrentlyValid, err
	}
	today := truncateToDate(now.In(loc))

	var feedInfos []feedInfoRow
	if err := readTable(&archive.Reader, "feed_info.txt", &feedInfos); err != nil {
		return CurrentlyValid, err
	}

	if notYetValid(feedInfos, today) {
		return NotYetValid, nil
	}

	expired, err := expired(&archive.Reader, feedInfos, today)
	if err != nil {
		return CurrentlyValid, err
	}
	if expired {
		return Expired, nil
	}
	return CurrentlyValid, nil
}

func feedTimezone(archive *zip.Reader) (*time.Location, error) {
	var agencies []agencyRow
	if err := readTable(archive, "agency.txt", &agencies); err != nil {
		return nil, err
	}
	if len(agencies) == 0 || agencies[0].Timezone == "" {
		return nil, ErrNoTimezone
	}
	loc, err := time.LoadLocation(agencies[0].Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid agency timezone %q: %w", agencies[0].Timezone, err)
	}
	return loc, nil
}

// notYetValid holds iff every feed-info row that declares a start date
// has it strictly in the future. Any row without one counts as already
// valid, deliberately lenient.
func notYetValid(feedInfos []feedInfoRow, today time.Time) bool {
	declared := false
	for _, row := range feedInfos {
		start, ok := parseDate(row.StartDate, today.Location())
		if !ok {
			return false
		}
		declared = true
		if !start.After(today) {
			return false
		}
	}
	return declared
}

// expired conjoins a strict feed-info check with a lenient calendar
// check: a missing feed-info end date is not evidence of expiry, but an
// all-past service calendar is. A feed with no date-limiting fields at
// all is currently valid.
func expired(archive *zip.Reader, feedInfos []feedInfoRow, today time.Time) (bool, error) {
	endDeclared := false
	for _, row := range feedInfos {
		end, ok := parseDate(row.EndDate, today.Location())
		if !ok {
			continue
		}
		endDeclared = true
		if !end.Before(today) {
			return false, nil
		}
	}

	var calendars []calendarRow
	if err := readTable(archive, "calendar.txt", &calendars); err != nil {
		return false, err
	}
	var calendarDates []calendarDateRow
	if err := readTable(archive, "calendar_dates.txt", &calendarDates); err != nil {
		return false, err
	}

	hasServiceRows := false
	for _, row := range calendars {
		if end, ok := parseDate(row.EndDate, today.Location()); ok {
			hasServiceRows = true
			if !end.Before(today) {
				return false, nil
			}
		}
	}
	for _, row := range calendarDates {
		if date, ok := parseDate(row.Date, today.Location()); ok {
			hasServiceRows = true
			if !date.Before(today) {
				return false, nil
			}
		}
	}

	return endDeclared || hasServiceRows, nil
}

// readTable decodes one archive member into rows. A missing member is
// an empty table, not an error.
func readTable(archive *zip.Reader, name string, rows interface{}) error {
	f, err := archive.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(reader)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s header: %w", name, err)
	}
	if err := dec.Decode(rows); err != nil && err != io.EOF {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

func parseDate(value string, loc *time.Location) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateFormat, value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
