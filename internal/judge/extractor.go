package judge

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
)

// PageExtractor navigates to a problem page, prepares the statement element,
// and captures it as an image plus markdown.
type PageExtractor struct {
	// URL builds the problem page address for a task.
	URL func(task crawler.Task) (string, error)
	// Selector locates the statement element.
	Selector string
	// Prepare runs in the page before capture, typically to strip hidden nodes.
	Prepare string
	Rules   MarkdownRules
	// Augment randomizes the statement typography before capture.
	Augment bool
}

// Extract implements crawler.Extractor.
func (e PageExtractor) Extract(ctx context.Context, session crawler.Session, task crawler.Task) (crawler.Statement, error) {
	target, err := e.URL(task)
	if err != nil {
		return crawler.Statement{}, err
	}
	if err := session.Navigate(ctx, target); err != nil {
		return crawler.Statement{}, fmt.Errorf("navigate %s: %w", target, err)
	}
	if e.Prepare != "" {
		if err := session.Eval(ctx, e.Prepare); err != nil {
			return crawler.Statement{}, fmt.Errorf("prepare statement: %w", err)
		}
	}
	if e.Augment {
		if err := session.Eval(ctx, typographyScript(e.Selector, rand.N(len(fontFamilies)), rand.N(len(fontSizes)), rand.N(len(lineHeights)))); err != nil {
			return crawler.Statement{}, fmt.Errorf("augment statement: %w", err)
		}
	}

	image, err := session.Screenshot(ctx, e.Selector)
	if err != nil {
		return crawler.Statement{}, fmt.Errorf("capture statement: %w", err)
	}
	html, err := session.OuterHTML(ctx, e.Selector)
	if err != nil {
		return crawler.Statement{}, fmt.Errorf("read statement: %w", err)
	}
	markup, err := ToMarkdown(html, e.Rules)
	if err != nil {
		return crawler.Statement{}, err
	}
	return crawler.Statement{Image: image, Markup: markup}, nil
}

var (
	fontFamilies = []string{
		`'Arial', 'Segoe UI', 'Noto Sans', 'Microsoft YaHei', 'Noto Sans CJK SC', sans-serif`,
		`'Verdana', 'DejaVu Sans', 'SimHei', sans-serif`,
		`'Times New Roman', 'Georgia', 'SimSun', 'Noto Serif CJK SC', serif`,
		`'DejaVu Serif', 'Liberation Serif', 'NSimSun', serif`,
		`'Courier New', 'Consolas', 'Noto Sans CJK SC', monospace`,
		`'Comic Sans', 'KaiTi', cursive`,
	}
	fontSizes   = []string{"12px", "14px", "16px", "18px"}
	lineHeights = []string{"1.0", "1.2", "1.5", "1.8"}
)

func typographyScript(selector string, family, size, height int) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) { return; }
	el.style.setProperty("font-family", %s, "important");
	el.style.setProperty("font-size", %q, "important");
	el.style.setProperty("line-height", %q, "important");
})()`, strconv.Quote(selector), strconv.Quote(fontFamilies[family]), fontSizes[size], lineHeights[height])
}

// removeHiddenScript drops invisible descendants of the statement so the
// screenshot and the markdown describe the same content. Tags listed in keep
// survive regardless of style.
func removeHiddenScript(selector string, keep ...string) string {
	kept := make([]string, len(keep))
	for i, k := range keep {
		kept[i] = strconv.Quote(k)
	}
	return fmt.Sprintf(`(() => {
	const root = document.querySelector(%s);
	if (!root) { return; }
	const keep = new Set([%s]);
	root.querySelectorAll("*").forEach(el => {
		if (keep.has(el.tagName.toLowerCase())) { return; }
		const style = window.getComputedStyle(el);
		if (el.tagName.toLowerCase() === "form" || style.display === "none" ||
			style.visibility === "hidden" || style.opacity === "0") {
			el.remove();
		}
	});
})()`, strconv.Quote(selector), strings.Join(kept, ", "))
}

var codeforcesProblemID = regexp.MustCompile(`^(\d+)([A-Z]+\d*)$`)

// CodeforcesProblemURL splits ids such as 1234B2 into contest and index.
func CodeforcesProblemURL(task crawler.Task) (string, error) {
	m := codeforcesProblemID.FindStringSubmatch(task.ProblemID)
	if m == nil {
		return "", fmt.Errorf("%w: %q", crawler.ErrInvalidProblemID, task.ProblemID)
	}
	return fmt.Sprintf("https://codeforces.com/problemset/problem/%s/%s", m[1], m[2]), nil
}

// AtCoderProblemURL requires a contest.
func AtCoderProblemURL(task crawler.Task) (string, error) {
	if task.ContestID == "" || task.ProblemID == "" {
		return "", fmt.Errorf("%w: atcoder task needs contest and problem, got %s", crawler.ErrInvalidProblemID, task)
	}
	return fmt.Sprintf("https://atcoder.jp/contests/%s/tasks/%s",
		url.PathEscape(task.ContestID), url.PathEscape(task.ProblemID)), nil
}

func simpleURL(pattern string) func(crawler.Task) (string, error) {
	return func(task crawler.Task) (string, error) {
		if task.ProblemID == "" {
			return "", fmt.Errorf("%w: empty problem id", crawler.ErrInvalidProblemID)
		}
		return fmt.Sprintf(pattern, url.PathEscape(task.ProblemID)), nil
	}
}

const (
	atcoderSelector    = "*:has(> #task-statement)"
	codeforcesSelector = ".problem-statement"
	lojSelector        = "._leftContainer_1rcs8_1"
	luoguSelector      = ".problem"
	accodingSelector   = ".markdown-body"
)

// NewAtCoderExtractor captures the parent of #task-statement.
func NewAtCoderExtractor() PageExtractor {
	return PageExtractor{
		URL:      AtCoderProblemURL,
		Selector: atcoderSelector,
		Prepare:  removeHiddenScript(atcoderSelector, "annotation"),
		Rules: MarkdownRules{
			Drop:         []string{"#task-lang-btn", ".btn-copy", "a.btn"},
			Headings:     []HeadingRule{{Selector: "span.h2", Level: 1}},
			HeadingShift: -1,
		},
		Augment: true,
	}
}

// NewCodeforcesExtractor captures .problem-statement.
func NewCodeforcesExtractor() PageExtractor {
	return PageExtractor{
		URL:      CodeforcesProblemURL,
		Selector: codeforcesSelector,
		Prepare:  removeHiddenScript(codeforcesSelector, "script"),
		Rules: MarkdownRules{
			Drop: []string{".input-output-copier"},
			Headings: []HeadingRule{
				{Selector: "div.input > div.title, div.output > div.title", Level: 3},
				{Selector: "div.section-title", Level: 2},
				{Selector: "div.title", Level: 1},
			},
			Labelled: []string{"div.time-limit", "div.memory-limit", "div.input-file", "div.output-file"},
		},
		Augment: true,
	}
}

// NewLOJExtractor captures the left statement column and drops the site's
// font preference overrides first.
func NewLOJExtractor() PageExtractor {
	return PageExtractor{
		URL:      simpleURL("https://loj.ac/p/%s"),
		Selector: lojSelector,
		Prepare: `(() => {
	for (const id of ["font-preference-content", "font-ui"]) {
		const el = document.getElementById(id);
		if (el) { el.remove(); }
	}
})()`,
		Rules: MarkdownRules{
			Drop: []string{"a._copySample_1rcs8_202"},
			Headings: []HeadingRule{
				{Selector: "div.header.large", Level: 2},
				{Selector: "div.header.small", Level: 3},
			},
		},
		Augment: true,
	}
}

// NewLuoguExtractor captures .problem.
func NewLuoguExtractor() PageExtractor {
	return PageExtractor{
		URL:      simpleURL("https://www.luogu.com.cn/problem/%s"),
		Selector: luoguSelector,
		Rules: MarkdownRules{
			Drop: []string{".problem-block-actions"},
		},
		Augment: true,
	}
}

// NewAcCodingExtractor captures the rendered markdown body.
func NewAcCodingExtractor() PageExtractor {
	return PageExtractor{
		URL:      simpleURL("https://accoding.buaa.edu.cn/problem/%s/index"),
		Selector: accodingSelector,
		Augment:  true,
	}
}
