package matcher

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCandidateThreshold = 0.4
	DefaultAcceptThreshold    = 0.6

	// coverageWeight scales the penalty for matching only a small part of a
	// longer query.
	coverageWeight = 0.5
	// Terms shorter than this ("cap") only match exactly.
	minFuzzyLen = 4
)

// Record is one gazetteer entry: a canonical character name and its aliases.
type Record struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

//go:embed characters.yaml
var defaultGazetteer []byte

func LoadGazetteer(r io.Reader) ([]Record, error) {
	var recs []Record
	if err := yaml.NewDecoder(r).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode gazetteer: %w", err)
	}
	for i, rec := range recs {
		if strings.TrimSpace(rec.Name) == "" {
			return nil, fmt.Errorf("gazetteer entry %d has no name", i)
		}
	}
	return recs, nil
}

func LoadGazetteerFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gazetteer: %w", err)
	}
	defer f.Close()
	return LoadGazetteer(f)
}

// DefaultGazetteer returns the gazetteer compiled into the binary.
func DefaultGazetteer() []Record {
	recs, err := LoadGazetteer(strings.NewReader(string(defaultGazetteer)))
	if err != nil {
		panic(err)
	}
	return recs
}

type term struct {
	record int
	tokens []string
	text   string // lower-cased, spaces removed
}

// Matcher resolves free text to a canonical character name.
//
// Scoring runs in two stages. A record becomes a candidate when some window of
// query tokens is within candidateThreshold normalized edit distance of one of
// its terms. The candidate's final score then blends that distance with how
// little of the query the window covers, and the best candidate is accepted
// only when its final score is strictly below acceptThreshold.
type Matcher struct {
	records            []Record
	terms              []term
	candidateThreshold float64
	acceptThreshold    float64
}

func New(records []Record, candidateThreshold, acceptThreshold float64) *Matcher {
	m := &Matcher{
		records:            records,
		candidateThreshold: candidateThreshold,
		acceptThreshold:    acceptThreshold,
	}
	for i, rec := range records {
		for _, s := range append([]string{rec.Name}, rec.Aliases...) {
			toks := tokenize(s)
			if len(toks) == 0 {
				continue
			}
			m.terms = append(m.terms, term{record: i, tokens: toks, text: strings.Join(toks, "")})
		}
	}
	return m
}

func Default() *Matcher {
	return New(DefaultGazetteer(), DefaultCandidateThreshold, DefaultAcceptThreshold)
}

// Match returns the canonical name of the best matching record.
func (m *Matcher) Match(text string) (string, bool) {
	name, _, ok := m.best(text)
	return name, ok
}

// Score exposes the best candidate and its final score, mostly for tuning.
func (m *Matcher) Score(text string) (string, float64, bool) {
	return m.best(text)
}

func (m *Matcher) best(text string) (string, float64, bool) {
	query := tokenize(text)
	if len(query) == 0 {
		return "", 1, false
	}
	bestRecord, bestScore := -1, 2.0
	for _, t := range m.terms {
		score, ok := m.scoreTerm(t, query)
		if !ok {
			continue
		}
		if score < bestScore || (score == bestScore && t.record < bestRecord) {
			bestRecord, bestScore = t.record, score
		}
	}
	if bestRecord < 0 || bestScore >= m.acceptThreshold {
		return "", bestScore, false
	}
	return m.records[bestRecord].Name, bestScore, true
}

// scoreTerm slides windows of roughly the term's token count over the query.
func (m *Matcher) scoreTerm(t term, query []string) (float64, bool) {
	best, found := 2.0, false
	for size := len(t.tokens) - 1; size <= len(t.tokens)+1; size++ {
		if size < 1 || size > len(query) {
			continue
		}
		coverage := float64(size) / float64(len(query))
		for start := 0; start+size <= len(query); start++ {
			window := strings.Join(query[start:start+size], "")
			ratio := distanceRatio(window, t.text)
			if !m.fuzzyOK(t.text, ratio) {
				continue
			}
			if size == len(t.tokens) && size > 1 && !m.tokensAlign(query[start:start+size], t.tokens) {
				continue
			}
			score := ratio + (1-ratio)*(1-coverage)*coverageWeight
			if score < best {
				best, found = score, true
			}
		}
	}
	return best, found
}

// tokensAlign reports whether every token of a multi-token window is close to
// the term token in the same position, so "captain marvel" stays away from
// "captain america" even though the joined strings are near.
func (m *Matcher) tokensAlign(window, tokens []string) bool {
	for i := range tokens {
		if !m.fuzzyOK(tokens[i], distanceRatio(window[i], tokens[i])) {
			return false
		}
	}
	return true
}

func (m *Matcher) fuzzyOK(text string, ratio float64) bool {
	if ratio > m.candidateThreshold {
		return false
	}
	return ratio == 0 || len([]rune(text)) >= minFuzzyLen
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("'", "", "’", "").Replace(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func distanceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein(ra, rb)) / float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
