package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Converter rewrites a markdown document into another format. The
// supported targets are "text" (markdown syntax stripped) and
// "markdown" (normalized front matter removal).
type Converter struct{}

// NewConverter returns the format conversion engine.
func NewConverter() *Converter {
	return &Converter{}
}

func (c *Converter) Name() string { return "text-converter" }

type convertInput struct {
	Content string `json:"content"`
	Target  string `json:"target"`
}

type convertOutput struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

// Process converts the payload's content to the requested target format.
// An unrecognized target is an engine failure.
func (c *Converter) Process(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in convertInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode convert payload: %w", err)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, errors.New("convert payload has no content")
	}

	_, body := splitFrontMatter(in.Content)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out convertOutput
	switch in.Target {
	case "text":
		out = convertOutput{Content: stripMarkdown(body), Format: "text"}
	case "markdown":
		out = convertOutput{Content: strings.TrimSpace(body) + "\n", Format: "markdown"}
	default:
		return nil, fmt.Errorf("unsupported conversion target %q", in.Target)
	}

	return json.Marshal(out)
}

// stripMarkdown reduces markdown to plain text: fences and heading
// markers removed, inline formatting unwrapped, links reduced to their
// text.
func stripMarkdown(body string) string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "```") {
			continue
		}
		if m := headingLine.FindStringSubmatch(line); m != nil {
			line = m[2]
		}
		lines = append(lines, line)
	}

	text := strings.Join(lines, "\n")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = inlineBold.ReplaceAllString(text, "$1")
	text = inlineEm.ReplaceAllString(text, "$1")
	text = inlineLink.ReplaceAllString(text, "$1")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text) + "\n"
}
