package judge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HeadingRule renders elements matching Selector as an ATX heading.
type HeadingRule struct {
	Selector string
	Level    int
}

// MarkdownRules adapts the converter to one judge's statement markup.
type MarkdownRules struct {
	// Drop lists selectors whose elements are removed before conversion.
	Drop []string
	// Headings are checked in order before the generic tag handling.
	Headings []HeadingRule
	// HeadingShift is added to the level of h1..h6 elements.
	HeadingShift int
	// Labelled elements render as one line, their children joined by ": ".
	Labelled []string
}

var (
	spaceRun    = regexp.MustCompile(`[ \t\r\n\f]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// ToMarkdown converts statement HTML to markdown. TeX sources are recovered
// from KaTeX annotations, MathJax v2 scripts, and MathJax v3 containers.
func ToMarkdown(html string, rules MarkdownRules) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse statement html: %w", err)
	}
	for _, sel := range rules.Drop {
		doc.Find(sel).Remove()
	}
	doc.Find("style, noscript, button, form").Remove()

	c := converter{rules: rules}
	out := c.children(doc.Selection)

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out = newlineRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out), nil
}

type converter struct {
	rules MarkdownRules
}

func (c converter) children(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, n *goquery.Selection) {
		b.WriteString(c.node(n))
	})
	return b.String()
}

func (c converter) node(n *goquery.Selection) string {
	name := goquery.NodeName(n)
	switch name {
	case "#text":
		return spaceRun.ReplaceAllString(n.Text(), " ")
	case "#comment", "#doctype":
		return ""
	}

	if tex, display, ok := mathSource(n); ok {
		if display {
			return "\n\n$$\n" + tex + "\n$$\n\n"
		}
		return "$" + tex + "$"
	}
	if n.HasClass("MathJax") || n.HasClass("MathJax_Display") || n.HasClass("MathJax_Preview") {
		return ""
	}
	for _, h := range c.rules.Headings {
		if n.Is(h.Selector) {
			return heading(h.Level, c.children(n))
		}
	}
	for _, sel := range c.rules.Labelled {
		if n.Is(sel) {
			return c.labelled(n)
		}
	}

	switch name {
	case "script":
		return ""
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level, _ := strconv.Atoi(name[1:])
		return heading(level+c.rules.HeadingShift, c.children(n))
	case "p", "div", "section", "article", "center", "header", "footer", "dl", "dd", "dt":
		return block(c.children(n))
	case "blockquote":
		inner := strings.TrimSpace(c.children(n))
		return block("> " + strings.ReplaceAll(inner, "\n", "\n> "))
	case "br":
		return "\n"
	case "hr":
		return "\n\n---\n\n"
	case "pre":
		return "\n\n```\n" + preText(n) + "\n```\n\n"
	case "code", "kbd", "samp", "tt":
		text := n.Text()
		if strings.TrimSpace(text) == "" {
			return text
		}
		return "`" + text + "`"
	case "strong", "b":
		return wrap("**", c.children(n))
	case "em", "i":
		return wrap("*", c.children(n))
	case "del", "s", "strike":
		return wrap("~~", c.children(n))
	case "a":
		text := c.children(n)
		href, ok := n.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return text
		}
		return "[" + strings.TrimSpace(text) + "](" + href + ")"
	case "img":
		src, _ := n.Attr("src")
		alt, _ := n.Attr("alt")
		return "![" + alt + "](" + src + ")"
	case "ul", "ol":
		return c.list(n, name == "ol")
	case "table":
		return c.table(n)
	default:
		return c.children(n)
	}
}

// mathSource extracts the TeX behind a rendered formula.
func mathSource(n *goquery.Selection) (tex string, display bool, ok bool) {
	switch {
	case goquery.NodeName(n) == "script":
		kind, _ := n.Attr("type")
		switch strings.TrimSpace(kind) {
		case "math/tex":
			return strings.TrimSpace(n.Text()), false, true
		case "math/tex; mode=display":
			return strings.TrimSpace(n.Text()), true, true
		}
		return "", false, false
	case goquery.NodeName(n) == "mjx-container":
		title, found := n.Attr("title")
		if !found {
			return "", false, false
		}
		mode, _ := n.Attr("display")
		return strings.TrimSpace(title), mode == "true", true
	case n.HasClass("katex-display"):
		return annotation(n), true, true
	case n.HasClass("katex"):
		return annotation(n), false, true
	}
	return "", false, false
}

func annotation(n *goquery.Selection) string {
	return strings.TrimSpace(n.Find("annotation").First().Text())
}

func heading(level int, text string) string {
	level = max(1, min(level, 6))
	return "\n\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(text) + "\n\n"
}

func block(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return "\n\n" + strings.TrimSpace(text) + "\n\n"
}

func wrap(marker, text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	return marker + trimmed + marker
}

// preText keeps line structure, including samples rendered one div per line.
func preText(n *goquery.Selection) string {
	lines := n.ChildrenFiltered("div")
	if lines.Length() == 0 {
		return strings.Trim(n.Text(), "\n")
	}
	parts := make([]string, 0, lines.Length())
	lines.Each(func(_ int, line *goquery.Selection) {
		parts = append(parts, line.Text())
	})
	return strings.Join(parts, "\n")
}

func (c converter) labelled(n *goquery.Selection) string {
	var parts []string
	n.Contents().Each(func(_ int, child *goquery.Selection) {
		text := strings.TrimSpace(spaceRun.ReplaceAllString(c.node(child), " "))
		if text != "" {
			parts = append(parts, text)
		}
	})
	return block(strings.Join(parts, ": "))
}

func (c converter) list(n *goquery.Selection, ordered bool) string {
	var items []string
	n.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
		marker := "- "
		if ordered {
			marker = strconv.Itoa(i+1) + ". "
		}
		body := strings.TrimSpace(newlineRuns.ReplaceAllString(c.children(li), "\n\n"))
		body = strings.ReplaceAll(body, "\n", "\n"+strings.Repeat(" ", len(marker)))
		items = append(items, marker+body)
	})
	return block(strings.Join(items, "\n"))
}

func (c converter) table(n *goquery.Selection) string {
	var rows []string
	n.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cells []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(spaceRun.ReplaceAllString(c.children(cell), " "))
			cells = append(cells, strings.ReplaceAll(text, "|", `\|`))
		})
		if len(cells) == 0 {
			return
		}
		rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
		if i == 0 {
			rows = append(rows, "|"+strings.Repeat(" --- |", len(cells)))
		}
	})
	return block(strings.Join(rows, "\n"))
}
