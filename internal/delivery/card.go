package delivery

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// cardWidth is the inner text width of the rendered card. Chosen to fit a
// phone screen in WhatsApp's monospace block without horizontal scrolling.
const cardWidth = 34

// cardField is one aligned label/value row in the card footer.
type cardField struct {
	Label string
	Value string
}

// renderCard draws a monospace box around the item: title, rule, wrapped
// body, then aligned fields. Widths are measured with runewidth so CJK and
// emoji content keeps the borders straight. The caller wraps the result in
// ``` fences so WhatsApp renders it fixed-width.
func renderCard(title, body string, fields []cardField) string {
	var b strings.Builder
	border := "+" + strings.Repeat("-", cardWidth+2) + "+"

	writeRow := func(line string) {
		b.WriteString("| ")
		b.WriteString(line)
		b.WriteString(strings.Repeat(" ", cardWidth-runewidth.StringWidth(line)))
		b.WriteString(" |\n")
	}
	writeWrapped := func(text string) {
		for _, line := range wrapText(text, cardWidth) {
			writeRow(line)
		}
	}

	b.WriteString(border + "\n")
	if title == "" {
		title = "Action item"
	}
	writeWrapped(title)
	b.WriteString(border + "\n")
	if body != "" {
		writeWrapped(body)
	}

	rows := alignFields(fields)
	if len(rows) > 0 {
		if body != "" {
			writeRow("")
		}
		for _, row := range rows {
			writeWrapped(row)
		}
	}
	b.WriteString(border)
	return b.String()
}

// alignFields renders non-empty fields with values in a common column.
func alignFields(fields []cardField) []string {
	labelWidth := 0
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		if w := runewidth.StringWidth(f.Label); w > labelWidth {
			labelWidth = w
		}
	}
	var rows []string
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		pad := strings.Repeat(" ", labelWidth-runewidth.StringWidth(f.Label))
		rows = append(rows, f.Label+pad+": "+f.Value)
	}
	return rows
}

// wrapText word-wraps to the display width, hard-splitting words that are
// wider than a whole line.
func wrapText(text string, width int) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := ""
		for _, word := range words {
			for runewidth.StringWidth(word) > width {
				head := runewidth.Truncate(word, width, "")
				if line != "" {
					lines = append(lines, line)
					line = ""
				}
				lines = append(lines, head)
				word = word[len(head):]
			}
			switch {
			case line == "":
				line = word
			case runewidth.StringWidth(line)+1+runewidth.StringWidth(word) <= width:
				line += " " + word
			default:
				lines = append(lines, line)
				line = word
			}
		}
		lines = append(lines, line)
	}
	return lines
}
