package resume

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultVocabulary seeds the skill matcher when the configuration does not
// provide one. The list is deliberately broad; unknown tokens simply never
// match a posting.
var DefaultVocabulary = []string{
	"go", "golang", "python", "java", "typescript", "javascript", "rust",
	"kubernetes", "docker", "terraform", "aws", "gcp", "azure", "linux",
	"postgresql", "postgres", "mysql", "redis", "kafka", "grpc", "rest",
	"sql", "nosql", "ci", "cd", "devops", "sre", "backend", "frontend",
	"microservices", "distributed", "observability", "prometheus",
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "have": {}, "your": {}, "will": {}, "into": {}, "such": {},
	"are": {}, "you": {}, "our": {}, "not": {}, "who": {}, "has": {},
}

// Profile is the weighted skill representation of one resume. It is immutable
// after construction; the content hash detects resume changes between runs.
type Profile struct {
	Text        string
	Skills      map[string]float64
	ContentHash string
}

// ProfileConfig tunes profile construction. Everything is optional.
type ProfileConfig struct {
	// Vocabulary is the set of tokens recognized as skills.
	Vocabulary []string
	// ExtraSkills are declared by the candidate and always get at least the
	// base weight even when absent from the resume text.
	ExtraSkills []string
}

// NewProfile tokenizes the resume text and builds the weighted keyword set.
// The weight of a skill grows with how often the resume mentions it.
func NewProfile(text string, cfg ProfileConfig) *Profile {
	vocabulary := cfg.Vocabulary
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}

	recognized := make(map[string]struct{}, len(vocabulary))
	for _, skill := range vocabulary {
		recognized[strings.ToLower(skill)] = struct{}{}
	}

	skills := make(map[string]float64)
	for _, token := range Tokenize(text) {
		if _, ok := recognized[token]; ok {
			skills[token]++
		}
	}

	for _, skill := range cfg.ExtraSkills {
		skill = strings.ToLower(strings.TrimSpace(skill))
		if skill != "" && skills[skill] == 0 {
			skills[skill] = 1
		}
	}

	sum := sha256.Sum256([]byte(text))

	return &Profile{
		Text:        text,
		Skills:      skills,
		ContentHash: hex.EncodeToString(sum[:]),
	}
}

// Tokenize lowercases the text, strips punctuation and drops stop words and
// single characters.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r == '+' || r == '#': // keep c++, c#
			return false
		default:
			return true
		}
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		if _, ok := stopWords[field]; ok {
			continue
		}
		tokens = append(tokens, field)
	}

	return tokens
}
