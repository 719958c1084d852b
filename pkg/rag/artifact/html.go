package artifact

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// RenderHTML converts the markdown-ish answer into a styled standalone HTML
// document with the query printed as subtitle. The transformation is
// deterministic: same input, same output, no model involved.
func RenderHTML(content, query string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
body { font-family: system-ui, -apple-system, sans-serif; padding: 2rem; max-width: 900px; margin: 0 auto; line-height: 1.6; }
h1 { color: #1e293b; border-bottom: 3px solid #3b82f6; padding-bottom: 0.5rem; }
h2 { color: #334155; margin-top: 2rem; }
h3 { color: #475569; margin-top: 1.5rem; }
p { color: #475569; margin: 1rem 0; }
ul { color: #475569; }
.metadata { background: #f1f5f9; padding: 1rem; border-radius: 0.5rem; margin: 1.5rem 0; }
.sources { margin-top: 2rem; padding-top: 1rem; border-top: 2px solid #e2e8f0; }
strong { color: #1e293b; }
</style>
</head>
<body>
<h1>Research Report</h1>
<div class="metadata">
<strong>Query:</strong> %s
</div>
<div class="content">
%s
</div>
</body>
</html>`, html.EscapeString(query), markdownToHTML(content))
}

var (
	boldRe   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe = regexp.MustCompile(`\*([^*]+)\*`)
)

// markdownToHTML handles the subset of markdown the pipeline emits:
// headers, bold, italics, bullet lists, and plain paragraphs.
func markdownToHTML(text string) string {
	var out []string
	var listItems []string

	flushList := func() {
		if len(listItems) == 0 {
			return
		}
		out = append(out, "<ul>\n"+strings.Join(listItems, "\n")+"\n</ul>")
		listItems = nil
	}

	for _, block := range strings.Split(text, "\n") {
		line := strings.TrimSpace(block)
		if line == "" {
			flushList()
			continue
		}

		switch {
		case strings.HasPrefix(line, "### "):
			flushList()
			out = append(out, "<h3>"+inline(strings.TrimPrefix(line, "### "))+"</h3>")
		case strings.HasPrefix(line, "## "):
			flushList()
			out = append(out, "<h2>"+inline(strings.TrimPrefix(line, "## "))+"</h2>")
		case strings.HasPrefix(line, "# "):
			flushList()
			out = append(out, "<h2>"+inline(strings.TrimPrefix(line, "# "))+"</h2>")
		case strings.HasPrefix(line, "- "):
			listItems = append(listItems, "<li>"+inline(strings.TrimPrefix(line, "- "))+"</li>")
		case strings.HasPrefix(line, "* "):
			listItems = append(listItems, "<li>"+inline(strings.TrimPrefix(line, "* "))+"</li>")
		default:
			flushList()
			out = append(out, "<p>"+inline(line)+"</p>")
		}
	}
	flushList()

	return strings.Join(out, "\n")
}

// inline escapes the text, then applies bold and italic spans.
func inline(text string) string {
	escaped := html.EscapeString(text)
	escaped = boldRe.ReplaceAllString(escaped, "<strong>$1</strong>")
	escaped = italicRe.ReplaceAllString(escaped, "<em>$1</em>")
	return escaped
}
