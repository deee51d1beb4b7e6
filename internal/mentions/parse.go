// Package mentions parses `@name` and `#path` references out of user
// input and classifies them against the tool registry, skill catalog,
// agent roster, and the session uploads tree. Unknown mentions become
// diagnostics, never errors.
package mentions

import (
	"regexp"
	"strings"
)

// Sigil distinguishes the two mention families.
type Sigil byte

const (
	SigilAt   Sigil = '@'
	SigilHash Sigil = '#'
)

// Mention is one parsed reference, before classification.
type Mention struct {
	Sigil Sigil
	Name  string
}

var (
	// @name: word characters and dashes.
	atPattern = regexp.MustCompile(`(^|[^\w@])@([\w-]+)`)
	// #path: path characters including glob stars. A leading ## is a
	// Markdown heading, not a mention.
	hashPattern = regexp.MustCompile(`(^|[^\w#])#([\w./*\-]+)`)
)

// Parse extracts mentions from user text and returns the cleaned text:
// the input with mention sigils stripped but names kept, which is what
// the model ultimately sees. The mention list is deduplicated and
// ordered by first appearance; parsing the same text twice yields the
// same mentions and the same cleaned text.
func Parse(text string) ([]Mention, string) {
	var out []Mention
	seen := make(map[string]bool)

	add := func(s Sigil, name string) {
		name = strings.TrimRight(name, ".")
		if name == "" {
			return
		}
		key := string(s) + name
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Mention{Sigil: s, Name: name})
	}

	for _, m := range atPattern.FindAllStringSubmatch(text, -1) {
		add(SigilAt, m[2])
	}
	for _, m := range hashPattern.FindAllStringSubmatch(text, -1) {
		add(SigilHash, m[2])
	}

	cleaned := atPattern.ReplaceAllString(text, "$1$2")
	cleaned = hashPattern.ReplaceAllString(cleaned, "$1$2")
	return out, cleaned
}
