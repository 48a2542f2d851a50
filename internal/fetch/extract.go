package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose content is never readable text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Form:     true,
	atom.Button:   true,
}

// blockElements start a new paragraph in the output.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Dl: true, atom.Dd: true, atom.Dt: true, atom.Figcaption: true,
	atom.Figure: true, atom.Details: true, atom.Summary: true, atom.Hr: true,
}

// extractor walks a parsed document once, collecting the title and the
// visible text. Headings become markdown-style "#" lines and list items
// become "- " lines so the model keeps some structure.
type extractor struct {
	title string
	out   strings.Builder
}

// extractHTML parses HTML and returns (title, readable text content).
func extractHTML(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", cleanWhitespace(raw)
	}
	var e extractor
	e.walk(doc)
	return strings.TrimSpace(e.title), cleanWhitespace(e.out.String())
}

func (e *extractor) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			e.out.WriteString(text)
			e.out.WriteByte(' ')
		}
		return
	case html.ElementNode:
		if n.DataAtom == atom.Title {
			if e.title == "" {
				e.title = textContent(n)
			}
			return
		}
		if skipElements[n.DataAtom] {
			return
		}
		if blockElements[n.DataAtom] {
			e.out.WriteString("\n\n")
		}
		if level := headingLevel(n.DataAtom); level > 0 {
			e.out.WriteString(strings.Repeat("#", level) + " ")
		}
		if n.DataAtom == atom.Li {
			e.out.WriteString("\n- ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}

	if n.Type == html.ElementNode && n.DataAtom == atom.Br {
		e.out.WriteByte('\n')
	}
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4, atom.H5, atom.H6:
		return 4
	}
	return 0
}

// textContent returns concatenated text of all descendants.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// cleanWhitespace collapses runs of spaces within lines and runs of
// blank lines.
func cleanWhitespace(s string) string {
	var cleaned []string
	prevEmpty := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
