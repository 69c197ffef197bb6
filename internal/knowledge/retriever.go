package knowledge

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

//go:embed drug_interactions.txt
var defaultCorpus string

const defaultSource = "drug_interactions.txt"

type Config struct {
	// File overrides the embedded drug interaction corpus.
	File string `envconfig:"KNOWLEDGE_FILE"`
	TopK int    `envconfig:"KNOWLEDGE_TOP_K" default:"2"`
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "be": {}, "between": {}, "can": {}, "do": {},
	"for": {}, "i": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "there": {}, "to": {}, "what": {}, "with": {}, "any": {}, "take": {},
	"my": {}, "me": {}, "about": {}, "does": {}, "have": {},
}

type section struct {
	id      string
	content string
	terms   map[string]int
}

// KeywordRetriever ranks the sections of a plain-text corpus (blank-line
// separated) by how many distinct query terms they contain.
type KeywordRetriever struct {
	source   string
	sections []section
	topK     int
}

var _ retriever.Retriever = (*KeywordRetriever)(nil)

// NewKeywordRetriever loads cfg.File, or the embedded corpus when unset.
func NewKeywordRetriever(cfg Config) (*KeywordRetriever, error) {
	text, source := defaultCorpus, defaultSource
	if cfg.File != "" {
		b, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("read knowledge file: %w", err)
		}
		text, source = string(b), cfg.File
	}
	r := NewKeywordRetrieverFromText(source, text, cfg.TopK)
	logx.Info().Str("source", source).Int("sections", len(r.sections)).Msg("Knowledge base loaded")
	return r, nil
}

func NewKeywordRetrieverFromText(source, text string, topK int) *KeywordRetriever {
	if topK <= 0 {
		topK = 2
	}
	r := &KeywordRetriever{source: source, topK: topK}
	for _, chunk := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		terms := make(map[string]int)
		for _, t := range tokenize(chunk) {
			terms[t]++
		}
		r.sections = append(r.sections, section{
			id:      strconv.Itoa(len(r.sections)),
			content: chunk,
			terms:   terms,
		})
	}
	return r
}

// Retrieve returns up to TopK sections with a positive score, best first.
// Equal scores keep corpus order.
func (r *KeywordRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	topK := r.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if options.TopK != nil && *options.TopK > 0 {
		topK = *options.TopK
	}

	queryTerms := uniqueTerms(tokenize(query))
	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, s := range r.sections {
		var score float64
		for _, t := range queryTerms {
			if n := s.terms[t]; n > 0 {
				// Distinct matches dominate; repetitions only break ties.
				score += 1 + 0.01*float64(n)
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if options.ScoreThreshold != nil {
		kept := hits[:0]
		for _, h := range hits {
			if h.score >= *options.ScoreThreshold {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}

	docs := make([]*schema.Document, 0, len(hits))
	for _, h := range hits {
		s := r.sections[h.idx]
		doc := &schema.Document{
			ID:       s.id,
			Content:  s.content,
			MetaData: map[string]any{"source": r.source},
		}
		docs = append(docs, doc.WithScore(h.score))
	}
	return docs, nil
}

func (r *KeywordRetriever) GetType() string {
	return "KeywordRetriever"
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
