package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

// headingLine matches an ATX heading and captures its marker and text.
var headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// Parser extracts structure from a markdown document: front matter,
// headings with anchors, the title, and a word count.
type Parser struct{}

// NewParser returns the markdown parsing engine.
func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Name() string { return "markdown-parser" }

type parseInput struct {
	Content string `json:"content"`
}

// Heading is one ATX heading found in a document.
type Heading struct {
	Level  int    `json:"level"`
	Text   string `json:"text"`
	Anchor string `json:"anchor"`
}

type parseOutput struct {
	Title     string            `json:"title"`
	Meta      map[string]string `json:"meta,omitempty"`
	Headings  []Heading         `json:"headings"`
	WordCount int               `json:"word_count"`
}

// Process parses the payload's markdown content.
func (p *Parser) Process(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in parseInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode parse payload: %w", err)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, errors.New("parse payload has no content")
	}

	meta, body := splitFrontMatter(in.Content)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := parseOutput{Meta: meta, Headings: []Heading{}}
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := headingLine.FindStringSubmatch(line); m != nil {
			h := Heading{
				Level:  len(m[1]),
				Text:   m[2],
				Anchor: slug.Make(m[2]),
			}
			out.Headings = append(out.Headings, h)
			if out.Title == "" && h.Level == 1 {
				out.Title = h.Text
			}
			out.WordCount += len(strings.Fields(h.Text))
			continue
		}
		out.WordCount += len(strings.Fields(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan content: %w", err)
	}
	if out.Title == "" {
		out.Title = meta["title"]
	}

	return json.Marshal(out)
}

// splitFrontMatter separates a leading "---" delimited block of
// key: value lines from the document body. Content without a front
// matter block is returned unchanged with nil metadata.
func splitFrontMatter(content string) (map[string]string, string) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return nil, content
	}
	block, body, ok := strings.Cut(rest, "\n---")
	if !ok {
		return nil, content
	}
	body = strings.TrimPrefix(body, "\n")

	meta := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		meta[strings.ToLower(key)] = strings.TrimSpace(value)
	}
	return meta, body
}
