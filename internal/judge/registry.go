// Package judge holds the closed registry of supported judges: how each one
// lists its problems and how a statement is captured from its pages.
package judge

import (
	"fmt"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
)

// Entry pairs the two capabilities every judge provides.
type Entry struct {
	Lister    crawler.Lister
	Extractor crawler.Extractor
}

// Registry maps judges to their capabilities. It is built once and shared
// read-only by the producer and the workers.
type Registry struct {
	entries map[crawler.Judge]Entry
}

// NewRegistry builds a registry from explicit entries.
func NewRegistry(entries map[crawler.Judge]Entry) *Registry {
	copied := make(map[crawler.Judge]Entry, len(entries))
	for j, e := range entries {
		copied[j] = e
	}
	return &Registry{entries: copied}
}

// Default wires the public judges against client.
func Default(client *Client) *Registry {
	return NewRegistry(map[crawler.Judge]Entry{
		crawler.JudgeAtCoder:    {Lister: AtCoderLister{Client: client}, Extractor: NewAtCoderExtractor()},
		crawler.JudgeCodeforces: {Lister: CodeforcesLister{Client: client}, Extractor: NewCodeforcesExtractor()},
		crawler.JudgeLOJ:        {Lister: LOJLister{Client: client}, Extractor: NewLOJExtractor()},
		crawler.JudgeLuogu:      {Lister: LuoguLister{Client: client}, Extractor: NewLuoguExtractor()},
		crawler.JudgeAcCoding:   {Lister: AcCodingLister{Client: client}, Extractor: NewAcCodingExtractor()},
	})
}

// Lookup returns the entry for j or ErrUnknownJudge.
func (r *Registry) Lookup(j crawler.Judge) (Entry, error) {
	e, ok := r.entries[j]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", crawler.ErrUnknownJudge, j)
	}
	return e, nil
}

// Judges returns the registered judges in the fixed enumeration order.
func (r *Registry) Judges() []crawler.Judge {
	out := make([]crawler.Judge, 0, len(r.entries))
	for _, j := range crawler.AllJudges() {
		if _, ok := r.entries[j]; ok {
			out = append(out, j)
		}
	}
	return out
}

// Restrict returns a registry holding only the listed judges. An empty list
// keeps every judge.
func (r *Registry) Restrict(enabled []crawler.Judge) *Registry {
	if len(enabled) == 0 {
		return r
	}
	kept := make(map[crawler.Judge]Entry, len(enabled))
	for _, j := range enabled {
		if e, ok := r.entries[j]; ok {
			kept[j] = e
		}
	}
	return &Registry{entries: kept}
}
