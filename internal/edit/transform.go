package edit

import (
	"strings"

	"chanedit/internal/settings"
)

// Footer is appended to every non-empty rewritten post.
const Footer = "\n</b>━━━━━━━━━━━━━━━━━━━━━━\n➥ ʙʏ : [@Anime_Community_India] </b>\n"

// htmlEscaper escapes & < >. A single-pass replacer never re-escapes the
// entities it produces, which matches escaping & first.
var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Transform rewrites raw using the built-in Footer.
func Transform(raw string, s settings.Settings) string {
	return TransformFooter(raw, s, Footer)
}

// TransformFooter drops every line containing "http://" or "https://",
// HTML-escapes the rest, keeps the first s.InsertLine lines and appends footer.
//
// Empty input yields empty output (no footer). Applying it twice double-escapes
// '&', so it must always be fed the original content.
func TransformFooter(raw string, s settings.Settings, footer string) string {
	if raw == "" {
		return ""
	}

	limit := s.InsertLine
	if limit < 1 {
		limit = 1
	}

	kept := make([]string, 0, limit)
	for _, line := range strings.Split(raw, "\n") {
		if len(kept) == limit {
			break
		}
		if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
			continue
		}
		kept = append(kept, htmlEscaper.Replace(line))
	}

	return strings.Join(kept, "\n") + footer
}
