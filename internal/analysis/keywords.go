// Package analysis extracts keywords from resource text and turns the text
// into study items.
package analysis

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// KeywordExtractor ranks the terms of a text by frequency.
type KeywordExtractor struct {
	stopWords map[string]bool
	minFreq   float64
}

// NewKeywordExtractor creates a KeywordExtractor with the built-in stop words.
func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{
		stopWords: buildStopWords(),
		minFreq:   0.01,
	}
}

// Keywords returns up to n terms of text, most frequent first. Ties are
// broken alphabetically so the same text always yields the same list.
func (e *KeywordExtractor) Keywords(text string, n int) []string {
	text = strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
	if text == "" || n <= 0 {
		return []string{}
	}

	var tokens []string
	if detectLanguage(text) == "zh" {
		tokens = e.tokenizeCJK(text)
	} else {
		tokens = e.tokenizeWords(text)
	}
	if len(tokens) == 0 {
		return []string{}
	}

	counts := make(map[string]int)
	for _, tok := range tokens {
		counts[tok]++
	}

	total := float64(len(tokens))
	type termFreq struct {
		term  string
		count int
	}
	var terms []termFreq
	for term, c := range counts {
		if float64(c)/total < e.minFreq {
			continue
		}
		terms = append(terms, termFreq{term, c})
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].count != terms[j].count {
			return terms[i].count > terms[j].count
		}
		return terms[i].term < terms[j].term
	})

	out := make([]string, 0, n)
	for i := 0; i < n && i < len(terms); i++ {
		out = append(out, terms[i].term)
	}
	return out
}

// tokenizeWords lowercases words and drops punctuation, stop words and
// words of two letters or fewer.
func (e *KeywordExtractor) tokenizeWords(text string) []string {
	var tokens []string
	for _, word := range strings.Fields(text) {
		word = strings.TrimFunc(strings.ToLower(word), func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if len(word) > 2 && !e.stopWords[word] {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// tokenizeCJK emits every CJK bigram. Single characters are only kept when
// they stand alone.
func (e *KeywordExtractor) tokenizeCJK(text string) []string {
	var tokens []string
	chars := []rune(text)
	for i, r := range chars {
		if !isCJK(r) {
			continue
		}
		nextCJK := i < len(chars)-1 && isCJK(chars[i+1])
		prevCJK := i > 0 && isCJK(chars[i-1])
		switch {
		case nextCJK:
			bigram := string(chars[i : i+2])
			if !e.stopWords[bigram] {
				tokens = append(tokens, bigram)
			}
		case !prevCJK && !e.stopWords[string(r)]:
			tokens = append(tokens, string(r))
		}
	}
	return tokens
}

// detectLanguage reports "zh" when more than 30% of the letters are CJK.
func detectLanguage(text string) string {
	cjk, letters := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if isCJK(r) {
			cjk++
		}
	}
	if letters == 0 {
		return "unknown"
	}
	if float64(cjk)/float64(letters) > 0.3 {
		return "zh"
	}
	return "en"
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func buildStopWords() map[string]bool {
	english := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "will", "with", "this",
		"but", "they", "have", "had", "what", "when", "where", "who",
		"which", "why", "how", "all", "each", "every", "both", "few",
		"more", "most", "other", "some", "such", "no", "nor", "not",
		"only", "own", "same", "so", "than", "too", "very", "just",
		"can", "about", "into", "through", "during", "before", "after",
		"above", "below", "between", "under", "again", "further", "then",
		"once", "here", "there", "any", "get", "got", "getting", "gotten",
		"also", "are", "were", "been", "their", "them", "these", "those",
	}
	cjk := []string{
		"的", "了", "在", "是", "我", "有", "和", "就", "不", "人",
		"都", "一", "一個", "上", "也", "很", "到", "說", "要", "去",
		"你", "會", "著", "沒有", "看", "好", "自己", "這", "那",
		"裡", "就是", "嗎", "啊", "吧", "呢", "嘛", "哦", "呀",
	}

	stopWords := make(map[string]bool, len(english)+len(cjk))
	for _, w := range english {
		stopWords[w] = true
	}
	for _, w := range cjk {
		stopWords[w] = true
	}
	return stopWords
}
