package judge

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
)

// Listing endpoints of the public judges.
const (
	AtCoderProblemsURL   = "https://kenkoooo.com/atcoder/resources/contest-problem.json"
	CodeforcesProblemsetURL = "https://codeforces.com/api/problemset.problems"
	LOJQueryURL          = "https://api.loj.ac/api/problem/queryProblemSet"
	LuoguListURL         = "https://www.luogu.com.cn/problem/list"
	AcCodingIndexURL     = "https://accoding.buaa.edu.cn/problem/index"
)

const lojPageSize = 100

// fetcher is the subset of Client the listers use.
type fetcher interface {
	Get(ctx context.Context, url string, headers http.Header) ([]byte, error)
	GetJSON(ctx context.Context, url string, headers http.Header, out any) error
	PostJSON(ctx context.Context, url string, payload any) ([]byte, error)
}

// AtCoderLister lists every AtCoder task from the kenkoooo mirror.
type AtCoderLister struct {
	Client fetcher
	URL    string
}

// List implements crawler.Lister.
func (l AtCoderLister) List(ctx context.Context) iter.Seq2[crawler.Listing, error] {
	return func(yield func(crawler.Listing, error) bool) {
		var problems []struct {
			ContestID string `json:"contest_id"`
			ProblemID string `json:"problem_id"`
		}
		if err := l.Client.GetJSON(ctx, orDefault(l.URL, AtCoderProblemsURL), nil, &problems); err != nil {
			yield(crawler.Listing{}, fmt.Errorf("atcoder listing: %w", err))
			return
		}
		for _, p := range problems {
			if !yield(crawler.Listing{ProblemID: p.ProblemID, ContestID: p.ContestID}, nil) {
				return
			}
		}
	}
}

// CodeforcesLister lists the Codeforces problemset.
type CodeforcesLister struct {
	Client fetcher
	URL    string
}

// List implements crawler.Lister.
func (l CodeforcesLister) List(ctx context.Context) iter.Seq2[crawler.Listing, error] {
	return func(yield func(crawler.Listing, error) bool) {
		var resp struct {
			Status  string `json:"status"`
			Comment string `json:"comment"`
			Result  struct {
				Problems []struct {
					ContestID int    `json:"contestId"`
					Index     string `json:"index"`
				} `json:"problems"`
			} `json:"result"`
		}
		if err := l.Client.GetJSON(ctx, orDefault(l.URL, CodeforcesProblemsetURL), nil, &resp); err != nil {
			yield(crawler.Listing{}, fmt.Errorf("codeforces listing: %w", err))
			return
		}
		if resp.Status != "OK" {
			yield(crawler.Listing{}, fmt.Errorf("codeforces listing: status %q: %s", resp.Status, resp.Comment))
			return
		}
		for _, p := range resp.Result.Problems {
			if p.ContestID == 0 || p.Index == "" {
				continue
			}
			contest := strconv.Itoa(p.ContestID)
			if !yield(crawler.Listing{ProblemID: contest + p.Index, ContestID: contest}, nil) {
				return
			}
		}
	}
}

// LOJLister pages through the LOJ problem set API.
type LOJLister struct {
	Client fetcher
	URL    string
}

// List implements crawler.Lister.
func (l LOJLister) List(ctx context.Context) iter.Seq2[crawler.Listing, error] {
	return func(yield func(crawler.Listing, error) bool) {
		endpoint := orDefault(l.URL, LOJQueryURL)
		for skip := 0; ; skip += lojPageSize {
			body, err := l.Client.PostJSON(ctx, endpoint, map[string]any{
				"locale":    "zh_CN",
				"skipCount": skip,
				"takeCount": lojPageSize,
			})
			if err != nil {
				yield(crawler.Listing{}, fmt.Errorf("loj listing at %d: %w", skip, err))
				return
			}
			var page struct {
				Result []struct {
					Meta struct {
						DisplayID int `json:"displayId"`
					} `json:"meta"`
				} `json:"result"`
			}
			if err := decodeJSON(body, &page); err != nil {
				yield(crawler.Listing{}, fmt.Errorf("loj listing at %d: %w", skip, err))
				return
			}
			if len(page.Result) == 0 {
				return
			}
			for _, p := range page.Result {
				if !yield(crawler.Listing{ProblemID: strconv.Itoa(p.Meta.DisplayID)}, nil) {
					return
				}
			}
		}
	}
}

// LuoguProblemTypes are the Luogu problem sets that are crawled, in order.
var LuoguProblemTypes = []string{"P", "B"}

// LuoguLister pages through the Luogu problem list for each problem type.
type LuoguLister struct {
	Client fetcher
	URL    string
	Types  []string
}

// List implements crawler.Lister.
func (l LuoguLister) List(ctx context.Context) iter.Seq2[crawler.Listing, error] {
	return func(yield func(crawler.Listing, error) bool) {
		types := l.Types
		if len(types) == 0 {
			types = LuoguProblemTypes
		}
		headers := http.Header{}
		headers.Set("x-lentille-request", "content-only")
		for _, problemType := range types {
			seen := 0
			for page := 1; ; page++ {
				endpoint := withQuery(orDefault(l.URL, LuoguListURL), url.Values{
					"type": {problemType},
					"page": {strconv.Itoa(page)},
				})
				var resp struct {
					Data struct {
						Problems struct {
							Result []struct {
								PID string `json:"pid"`
							} `json:"result"`
							PerPage int `json:"perPage"`
							Count   int `json:"count"`
						} `json:"problems"`
					} `json:"data"`
				}
				if err := l.Client.GetJSON(ctx, endpoint, headers, &resp); err != nil {
					yield(crawler.Listing{}, fmt.Errorf("luogu listing %s page %d: %w", problemType, page, err))
					return
				}
				problems := resp.Data.Problems
				for _, p := range problems.Result {
					if !yield(crawler.Listing{ProblemID: p.PID}, nil) {
						return
					}
				}
				seen += problems.PerPage
				if len(problems.Result) == 0 || problems.PerPage <= 0 || seen >= problems.Count {
					break
				}
			}
		}
	}
}

var acCodingRow = regexp.MustCompile(`^tr\d+$`)

// AcCodingLister scrapes the AcCoding problem index pages.
type AcCodingLister struct {
	Client fetcher
	URL    string
}

// List implements crawler.Lister.
func (l AcCodingLister) List(ctx context.Context) iter.Seq2[crawler.Listing, error] {
	return func(yield func(crawler.Listing, error) bool) {
		for page := 0; ; page++ {
			endpoint := withQuery(orDefault(l.URL, AcCodingIndexURL), url.Values{"page": {strconv.Itoa(page)}})
			body, err := l.Client.Get(ctx, endpoint, nil)
			if err != nil {
				yield(crawler.Listing{}, fmt.Errorf("accoding listing page %d: %w", page, err))
				return
			}
			ids, err := parseAcCodingIndex(body)
			if err != nil {
				yield(crawler.Listing{}, fmt.Errorf("accoding listing page %d: %w", page, err))
				return
			}
			if len(ids) == 0 {
				return
			}
			for _, id := range ids {
				if !yield(crawler.Listing{ProblemID: id}, nil) {
					return
				}
			}
		}
	}
}

// parseAcCodingIndex returns the problem ids linked from rows with id tr<N>.
// Rows whose link text is "0" are placeholders and skipped.
func parseAcCodingIndex(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	var ids []string
	doc.Find("[id]").Each(func(_ int, row *goquery.Selection) {
		rowID, _ := row.Attr("id")
		if !acCodingRow.MatchString(rowID) {
			return
		}
		link := row.Find("a").First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(link.Text()) == "0" {
			return
		}
		href = strings.TrimPrefix(strings.TrimPrefix(href, "/problem/"), "/")
		if id, _, _ := strings.Cut(href, "/"); id != "" {
			ids = append(ids, id)
		}
	})
	return ids, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func withQuery(base string, values url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + values.Encode()
}
