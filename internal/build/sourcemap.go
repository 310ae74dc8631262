package build

import (
	"encoding/json"
	"strings"
)

const vlqChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// sourceMap collects a line-level version 3 source map. Each generated line
// maps at most one segment, to column zero of a source line.
type sourceMap struct {
	file     string
	sources  []string
	contents []string
	lines    []lineMapping
}

type lineMapping struct {
	mapped bool
	source int
	line   int
}

func newSourceMap(file string) *sourceMap {
	return &sourceMap{file: file}
}

func (s *sourceMap) addSource(name, content string) int {
	s.sources = append(s.sources, name)
	s.contents = append(s.contents, content)
	return len(s.sources) - 1
}

// skip records n generated lines with no origin.
func (s *sourceMap) skip(n int) {
	for i := 0; i < n; i++ {
		s.lines = append(s.lines, lineMapping{})
	}
}

// span records n generated lines taken one to one from the start of source.
func (s *sourceMap) span(source, n int) {
	for i := 0; i < n; i++ {
		s.lines = append(s.lines, lineMapping{mapped: true, source: source, line: i})
	}
}

func (s *sourceMap) mappings() string {
	var b []byte
	prevSource, prevLine := 0, 0
	for i, l := range s.lines {
		if i > 0 {
			b = append(b, ';')
		}
		if !l.mapped {
			continue
		}
		b = appendVLQ(b, 0)
		b = appendVLQ(b, l.source-prevSource)
		b = appendVLQ(b, l.line-prevLine)
		b = appendVLQ(b, 0)
		prevSource, prevLine = l.source, l.line
	}
	return string(b)
}

// MarshalJSON renders the map document.
func (s *sourceMap) MarshalJSON() ([]byte, error) {
	sources := s.sources
	if sources == nil {
		sources = []string{}
	}
	contents := s.contents
	if contents == nil {
		contents = []string{}
	}
	return json.Marshal(struct {
		Version        int      `json:"version"`
		File           string   `json:"file"`
		Sources        []string `json:"sources"`
		SourcesContent []string `json:"sourcesContent"`
		Names          []string `json:"names"`
		Mappings       string   `json:"mappings"`
	}{
		Version:        3,
		File:           s.file,
		Sources:        sources,
		SourcesContent: contents,
		Names:          []string{},
		Mappings:       s.mappings(),
	})
}

// appendVLQ appends v in base64 variable-length quantity form.
func appendVLQ(b []byte, v int) []byte {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & 31
		u >>= 5
		if u > 0 {
			digit |= 32
		}
		b = append(b, vlqChars[digit])
		if u == 0 {
			return b
		}
	}
}

// lineCount returns the number of lines in s, where a trailing newline does
// not start a new line.
func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
