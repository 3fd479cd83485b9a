package export

import (
	"html"
	"strings"
)

// NotesToHTML converts plain tutor notes into HTML. Lines starting with "#"
// become headings and lines starting with "-" or "*" become list items; blank
// lines separate paragraphs.
func NotesToHTML(notes string) string {
	var (
		out       strings.Builder
		paragraph []string
		inList    bool
	)
	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		out.WriteString("<p>" + strings.Join(paragraph, "<br>") + "</p>")
		paragraph = nil
	}
	closeList := func() {
		if inList {
			out.WriteString("</ul>")
			inList = false
		}
	}

	for _, raw := range strings.Split(strings.ReplaceAll(notes, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flushParagraph()
			closeList()
		case strings.HasPrefix(line, "#"):
			flushParagraph()
			closeList()
			level := len(line) - len(strings.TrimLeft(line, "#"))
			if level > 6 {
				level = 6
			}
			tag := "h" + string(rune('0'+level))
			out.WriteString("<" + tag + ">" + html.EscapeString(strings.TrimSpace(line[level:])) + "</" + tag + ">")
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			flushParagraph()
			if !inList {
				out.WriteString("<ul>")
				inList = true
			}
			out.WriteString("<li>" + html.EscapeString(strings.TrimSpace(line[2:])) + "</li>")
		default:
			closeList()
			paragraph = append(paragraph, html.EscapeString(line))
		}
	}
	flushParagraph()
	closeList()
	return out.String()
}
