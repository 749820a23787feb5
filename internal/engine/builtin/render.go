package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	inlineCode = regexp.MustCompile("`([^`]+)`")
	inlineBold = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	inlineEm   = regexp.MustCompile(`\*([^*]+)\*`)
	inlineLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
)

// Renderer turns a markdown document into an HTML fragment. It covers
// the subset the parser understands: ATX headings, fenced code blocks,
// paragraphs, and inline code, bold, emphasis, and links.
type Renderer struct{}

// NewRenderer returns the HTML rendering engine.
func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Name() string { return "html-renderer" }

type renderInput struct {
	Content string `json:"content"`
}

type renderOutput struct {
	HTML   string `json:"html"`
	Blocks int    `json:"blocks"`
}

// Process renders the payload's markdown content to HTML.
func (r *Renderer) Process(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in renderInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode render payload: %w", err)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, errors.New("render payload has no content")
	}

	_, body := splitFrontMatter(in.Content)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		blocks    []string
		paragraph []string
		codeLines []string
		inCode    bool
	)
	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		blocks = append(blocks, "<p>"+renderInline(strings.Join(paragraph, " "))+"</p>")
		paragraph = nil
	}

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "```") {
			if inCode {
				blocks = append(blocks, "<pre><code>"+strings.Join(codeLines, "\n")+"</code></pre>")
				codeLines = nil
			} else {
				flushParagraph()
			}
			inCode = !inCode
			continue
		}
		if inCode {
			codeLines = append(codeLines, html.EscapeString(line))
			continue
		}
		if m := headingLine.FindStringSubmatch(line); m != nil {
			flushParagraph()
			level := len(m[1])
			blocks = append(blocks, fmt.Sprintf("<h%d>%s</h%d>", level, renderInline(m[2]), level))
			continue
		}
		if strings.TrimSpace(line) == "" {
			flushParagraph()
			continue
		}
		paragraph = append(paragraph, strings.TrimSpace(line))
	}
	if inCode {
		return nil, errors.New("unterminated code fence")
	}
	flushParagraph()

	out := renderOutput{HTML: strings.Join(blocks, "\n"), Blocks: len(blocks)}
	return json.Marshal(out)
}

// renderInline escapes a span of text and applies inline markdown
// formatting. Escaping runs first so engine output never carries raw
// input HTML.
func renderInline(s string) string {
	s = html.EscapeString(s)
	s = inlineCode.ReplaceAllString(s, "<code>$1</code>")
	s = inlineBold.ReplaceAllString(s, "<strong>$1</strong>")
	s = inlineEm.ReplaceAllString(s, "<em>$1</em>")
	s = inlineLink.ReplaceAllString(s, `<a href="$2">$1</a>`)
	return s
}
