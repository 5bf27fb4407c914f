package overlay

import (
	"strings"
	"time"
)

// Tokens in the yyyy-MM-dd HH:mm:ss family, longest first so "MMMM" wins
// over "MM".
var dateTokens = []struct {
	token  string
	layout string
}{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"dddd", "Monday"},
	{"ddd", "Mon"},
	{"dd", "02"},
	{"d", "2"},
	{"HH", "15"},
	{"H", "15"},
	{"hh", "03"},
	{"h", "3"},
	{"mm", "04"},
	{"m", "4"},
	{"ss", "05"},
	{"s", "5"},
	{"fff", "000"},
	{"ff", "00"},
	{"f", "0"},
	{"tt", "PM"},
	{"zzz", "-07:00"},
}

// tokenMarkers identify a pattern-style format; anything else is taken as
// a Go layout.
var tokenMarkers = []string{"yyyy", "yy", "MM", "dd", "HH", "hh", "mm", "ss"}

// GoLayout converts a yyyy/MM/dd/HH/mm/ss style pattern into a Go time
// layout. Text in single quotes is copied literally. Formats that already
// look like Go layouts are returned unchanged.
func GoLayout(format string) string {
	if format == "" {
		return "2006-01-02 15:04:05"
	}

	pattern := false
	for _, m := range tokenMarkers {
		if strings.Contains(format, m) {
			pattern = true
			break
		}
	}
	if !pattern {
		return format
	}

	var b strings.Builder
	for i := 0; i < len(format); {
		if format[i] == '\'' {
			end := strings.IndexByte(format[i+1:], '\'')
			if end < 0 {
				b.WriteString(format[i+1:])
				break
			}
			b.WriteString(format[i+1 : i+1+end])
			i += end + 2
			continue
		}

		matched := false
		for _, t := range dateTokens {
			if strings.HasPrefix(format[i:], t.token) {
				b.WriteString(t.layout)
				i += len(t.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

// FormatTime renders now in the named IANA zone (empty means UTC).
func FormatTime(now time.Time, format, timezone string) (string, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return "", err
		}
		loc = l
	}
	return now.In(loc).Format(GoLayout(format)), nil
}
