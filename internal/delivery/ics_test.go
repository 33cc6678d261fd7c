package delivery

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func icsLines(t *testing.T, data []byte) []string {
	t.Helper()
	s := string(data)
	if !strings.HasSuffix(s, "\r\n") {
		t.Fatalf("ics does not end with CRLF")
	}
	return strings.Split(strings.TrimSuffix(s, "\r\n"), "\r\n")
}

func findLine(lines []string, prefix string) string {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return l
		}
	}
	return ""
}

func TestBuildICSEvent(t *testing.T) {
	item := actionableItem{
		Summary:     "Pay club dues",
		Description: "Before Monday evening.",
		Sender:      "Ana",
		Group:       "Family",
		Deadline:    "2026-03-02 18:00",
	}
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	data, err := buildICS(item, now)
	if err != nil {
		t.Fatalf("buildICS: %v", err)
	}
	lines := icsLines(t, data)

	// The deadline is a wall-clock time in the owner's zone, so the event is
	// floating: local format, no Z suffix.
	for prefix, want := range map[string]string{
		"DTEND:":   "DTEND:20260302T180000",
		"DTSTART:": "DTSTART:20260302T170000",
		"DTSTAMP:": "DTSTAMP:20260301T123000Z",
		"SUMMARY:": "SUMMARY:Pay club dues",
		"STATUS:":  "STATUS:CONFIRMED",
		"METHOD:":  "METHOD:PUBLISH",
	} {
		if got := findLine(lines, prefix); got != want {
			t.Errorf("line %s = %q, want %q", prefix, got, want)
		}
	}

	uid := findLine(lines, "UID:")
	if !strings.HasSuffix(uid, "@waclerk") {
		t.Errorf("UID = %q, want @waclerk suffix", uid)
	}
	desc := findLine(lines, "DESCRIPTION:")
	if !strings.Contains(desc, `\nFrom: Ana`) || !strings.Contains(desc, `\nGroup: Family`) {
		t.Errorf("DESCRIPTION = %q, want sender and group appended", desc)
	}
	if lines[0] != "BEGIN:VCALENDAR" || lines[len(lines)-1] != "END:VCALENDAR" {
		t.Errorf("document not wrapped in VCALENDAR: first=%q last=%q", lines[0], lines[len(lines)-1])
	}
}

func TestBuildICSRejectsBadDeadline(t *testing.T) {
	_, err := buildICS(actionableItem{Summary: "x", Deadline: "next tuesday"}, time.Now())
	if err == nil {
		t.Fatal("buildICS accepted an unparseable deadline")
	}
}

func TestParseDeadline(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2026-03-02 18:00", want: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		{in: "2026-03-02 18:00:30", want: time.Date(2026, 3, 2, 18, 0, 30, 0, time.UTC)},
		{in: " 2026-03-02 18:00 ", want: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		{in: "2026-03-02T18:00", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseDeadline(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDeadline(%q) accepted", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDeadline(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseDeadline(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEscapeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "a,b;c", want: `a\,b\;c`},
		{in: `back\slash`, want: `back\\slash`},
		{in: "two\nlines", want: `two\nlines`},
		{in: "crlf\r\nline", want: `crlf\nline`},
	}
	for _, tt := range tests {
		if got := escapeText(tt.in); got != tt.want {
			t.Errorf("escapeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFoldLineLimitsOctets(t *testing.T) {
	long := "DESCRIPTION:" + strings.Repeat("word ", 40)
	folded := foldLine(long)
	if len(folded) < 2 {
		t.Fatalf("line of %d octets did not fold", len(long))
	}
	for i, seg := range folded {
		if len(seg) > maxLineOctets {
			t.Errorf("segment %d is %d octets, want <= %d", i, len(seg), maxLineOctets)
		}
		if i > 0 && !strings.HasPrefix(seg, " ") {
			t.Errorf("continuation %d does not start with a space: %q", i, seg)
		}
	}
	// Unfolding (drop the continuation space) restores the original.
	rejoined := folded[0]
	for _, seg := range folded[1:] {
		rejoined += seg[1:]
	}
	if rejoined != long {
		t.Errorf("unfolded text differs from original")
	}
}

func TestFoldLineKeepsRunesIntact(t *testing.T) {
	long := "SUMMARY:" + strings.Repeat("会議", 40)
	for i, seg := range foldLine(long) {
		if len(seg) > maxLineOctets {
			t.Errorf("segment %d is %d octets", i, len(seg))
		}
		if !strings.HasPrefix(seg, " ") && i > 0 {
			t.Errorf("continuation %d missing leading space", i)
		}
		check := seg
		if i > 0 {
			check = seg[1:]
		}
		if !utf8.ValidString(check) {
			t.Errorf("segment %d splits a UTF-8 sequence: %q", i, seg)
		}
	}
}
