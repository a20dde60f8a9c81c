package intent

import (
	"regexp"
	"strings"
)

const defaultAppointmentTime = "00:00"

// BookingRequest is a structured appointment request parsed from free text.
type BookingRequest struct {
	PatientName string
	Contact     string
	DoctorName  string
	// DateTime is the trailing date/time segment as the user typed it.
	DateTime string
	Date     string
	Time     string
}

// BookingParser extracts a BookingRequest from a single message.
type BookingParser interface {
	Parse(text string) (BookingRequest, bool)
}

// RegexBookingParser accepts the comma-separated grammar
//
//	Nama, Nomor HP, Dr. Nama Dokter, [tanggal] tanggal [jam waktu]
//
// e.g. "Budi, 08123456789, Dr. Arifudin, tanggal 30 Desember jam 10:00".
type RegexBookingParser struct{}

var bookingRe = regexp.MustCompile(`^(.+?),\s*(\d[\d\-\s]+),\s*[Dd]r\.?\s*(.+?),\s*(?:tanggal\s+)?(.+)`)

var contactStripper = strings.NewReplacer(" ", "", "-", "")

// Parse implements BookingParser.
func (RegexBookingParser) Parse(text string) (BookingRequest, bool) {
	m := bookingRe.FindStringSubmatch(text)
	if m == nil {
		return BookingRequest{}, false
	}
	req := BookingRequest{
		PatientName: strings.TrimSpace(m[1]),
		Contact:     contactStripper.Replace(strings.TrimSpace(m[2])),
		DoctorName:  strings.TrimSpace(m[3]),
		DateTime:    strings.TrimSpace(m[4]),
	}
	req.Date, req.Time = splitDateTime(req.DateTime)
	return req, true
}

// splitDateTime splits on the first "jam" (any case). The time is the text
// up to the next "jam", if any.
func splitDateTime(dt string) (date, tm string) {
	i := indexFold(dt, "jam")
	if i < 0 {
		return dt, defaultAppointmentTime
	}
	date = strings.TrimSpace(dt[:i])
	rest := dt[i+len("jam"):]
	if j := indexFold(rest, "jam"); j >= 0 {
		rest = rest[:j]
	}
	return date, strings.TrimSpace(rest)
}

// indexFold is strings.Index with ASCII case folding on sep.
func indexFold(s, sep string) int {
	n := len(sep)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], sep) {
			return i
		}
	}
	return -1
}
