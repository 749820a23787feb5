package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/gosimple/slug"
)

// stopwords lists terms too common to index.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "in": {}, "is": {}, "it": {},
	"its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {},
}

// Indexer builds a term-frequency index for a document.
type Indexer struct{}

// NewIndexer returns the term indexing engine.
func NewIndexer() *Indexer {
	return &Indexer{}
}

func (i *Indexer) Name() string { return "term-indexer" }

type indexInput struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type indexOutput struct {
	DocKey      string         `json:"doc_key"`
	Terms       map[string]int `json:"terms"`
	TotalTerms  int            `json:"total_terms"`
	UniqueTerms int            `json:"unique_terms"`
}

// Process tokenizes the payload's content and counts term frequencies.
// Terms are lowercased, punctuation-split, and filtered against a small
// stopword list.
func (i *Indexer) Process(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in indexInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode index payload: %w", err)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, errors.New("index payload has no content")
	}

	key := in.Title
	if key == "" {
		key = in.DocID
	}

	words := strings.FieldsFunc(strings.ToLower(in.Content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := indexOutput{DocKey: slug.Make(key), Terms: make(map[string]int)}
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		out.Terms[w]++
		out.TotalTerms++
	}
	out.UniqueTerms = len(out.Terms)

	return json.Marshal(out)
}
