package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Deadlines arrive as wall-clock strings in the owner's timezone; the
// calendar event is emitted floating (no TZID, no Z) so it lands at the same
// wall time on whatever device opens it.
const (
	deadlineLayout        = "2006-01-02 15:04"
	deadlineLayoutSeconds = "2006-01-02 15:04:05"
	icsTimeLayout         = "20060102T150405"
	icsStampLayout        = "20060102T150405Z"
)

// eventLeadTime is how long before the deadline the calendar block starts.
const eventLeadTime = time.Hour

// parseDeadline reads a "YYYY-MM-DD HH:MM" wall-clock string, tolerating a
// seconds component.
func parseDeadline(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(deadlineLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(deadlineLayoutSeconds, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline %q: want %q", s, deadlineLayout)
	}
	return t, nil
}

// buildICS renders a single-VEVENT iCalendar document for an actionable
// item. The event ends at the deadline and starts one hour before it.
func buildICS(item actionableItem, now time.Time) ([]byte, error) {
	deadline, err := parseDeadline(item.Deadline)
	if err != nil {
		return nil, err
	}
	summary := item.Summary
	if summary == "" {
		summary = "Action item"
	}
	description := item.Description
	if item.Sender != "" {
		description = strings.TrimSpace(description + "\nFrom: " + item.Sender)
	}
	if item.Group != "" {
		description = strings.TrimSpace(description + "\nGroup: " + item.Group)
	}

	var b strings.Builder
	writeLine := func(line string) {
		for _, folded := range foldLine(line) {
			b.WriteString(folded)
			b.WriteString("\r\n")
		}
	}
	writeLine("BEGIN:VCALENDAR")
	writeLine("VERSION:2.0")
	writeLine("PRODID:-//waclerk//delivery//EN")
	writeLine("METHOD:PUBLISH")
	writeLine("BEGIN:VEVENT")
	writeLine("UID:" + uuid.NewString() + "@waclerk")
	writeLine("DTSTAMP:" + now.UTC().Format(icsStampLayout))
	writeLine("DTSTART:" + deadline.Add(-eventLeadTime).Format(icsTimeLayout))
	writeLine("DTEND:" + deadline.Format(icsTimeLayout))
	writeLine("SUMMARY:" + escapeText(summary))
	if description != "" {
		writeLine("DESCRIPTION:" + escapeText(description))
	}
	writeLine("STATUS:CONFIRMED")
	writeLine("END:VEVENT")
	writeLine("END:VCALENDAR")
	return []byte(b.String()), nil
}

// escapeText applies RFC 5545 §3.3.11 TEXT escaping: backslash, semicolon,
// comma, and newline.
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			// bare CR never appears in content lines
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// maxLineOctets is the RFC 5545 §3.1 content-line limit before folding.
const maxLineOctets = 75

// foldLine splits a content line into RFC 5545 folded segments: each
// continuation starts with a single space and no segment exceeds 75 octets.
// Splits never land inside a UTF-8 sequence.
func foldLine(line string) []string {
	if len(line) <= maxLineOctets {
		return []string{line}
	}
	var out []string
	budget := maxLineOctets
	for len(line) > budget {
		cut := budget
		for cut > 0 && !utf8RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = budget
		}
		out = append(out, line[:cut])
		line = " " + line[cut:]
		// continuations lose one octet to the leading space
		budget = maxLineOctets
	}
	return append(out, line)
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
