package analysis

import (
	"context"
	"regexp"
	"strings"

	"github.com/kimhsiao/pagesync/backend/internal/models"
)

// Defaults for KeywordGenerator.
const (
	DefaultItemCount  = 5
	DefaultDifficulty = "medium"
	Blank             = "_____"
	keywordPool       = 10
	tagsPerItem       = 3
)

var sentenceRE = regexp.MustCompile(`[^.!?。！？\n]+[.!?。！？]*`)

// KeywordGenerator builds cloze questions from Markdown content: each
// sentence that contains one of the text's top keywords becomes a question
// with that keyword blanked.
type KeywordGenerator struct {
	extractor *KeywordExtractor
}

// NewKeywordGenerator creates a KeywordGenerator.
func NewKeywordGenerator() *KeywordGenerator {
	return &KeywordGenerator{extractor: NewKeywordExtractor()}
}

// Generate returns up to count items built from content. The output is a
// pure function of its inputs.
func (g *KeywordGenerator) Generate(ctx context.Context, content, title string, count int, difficulty string) ([]models.GeneratedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = DefaultItemCount
	}
	if difficulty == "" {
		difficulty = DefaultDifficulty
	}

	content = PlainText(content)
	keywords := g.extractor.Keywords(title+"\n"+content, keywordPool)
	if len(keywords) == 0 {
		return []models.GeneratedItem{}, nil
	}
	tags := keywords
	if len(tags) > tagsPerItem {
		tags = tags[:tagsPerItem]
	}

	items := make([]models.GeneratedItem, 0, count)
	for _, sentence := range splitSentences(content) {
		if len(items) == count {
			break
		}
		question, answer, ok := cloze(sentence, keywords)
		if !ok {
			continue
		}
		items = append(items, models.GeneratedItem{
			Question:   question,
			Answer:     answer,
			Tags:       append([]string(nil), tags...),
			Difficulty: difficulty,
		})
	}
	return items, nil
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceRE.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// cloze blanks the first keyword, in rank order, that occurs in sentence.
func cloze(sentence string, keywords []string) (question, answer string, ok bool) {
	for _, kw := range keywords {
		var loc []int
		if isCJK([]rune(kw)[0]) {
			if i := strings.Index(sentence, kw); i >= 0 {
				loc = []int{i, i + len(kw)}
			}
		} else {
			re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
			loc = re.FindStringIndex(sentence)
		}
		if loc == nil {
			continue
		}
		return sentence[:loc[0]] + Blank + sentence[loc[1]:], sentence[loc[0]:loc[1]], true
	}
	return "", "", false
}
