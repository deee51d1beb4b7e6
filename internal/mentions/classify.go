package mentions

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the resolved category of a mention.
type Kind string

const (
	KindTool    Kind = "tool"
	KindSkill   Kind = "skill"
	KindAgent   Kind = "agent"
	KindFile    Kind = "file"
	KindUnknown Kind = "unknown"
)

// Resolved is one classified mention. For file mentions, Files holds the
// matched upload paths (relative to the uploads root).
type Resolved struct {
	Mention Mention
	Kind    Kind
	Files   []string
}

// Classification is the outcome for a whole user message.
type Classification struct {
	Resolved []Resolved

	// Cleaned is the input with mention sigils stripped.
	Cleaned string

	// Tools, Skills, Agents, Files aggregate resolved names by kind.
	Tools  []string
	Skills []string
	Agents []string
	Files  []string

	// Diagnostics describe unknown mentions for the user.
	Diagnostics []string
}

// ToolResolver promotes a mentioned tool into the enabled pool.
// Returning an error marks the mention unresolved.
type ToolResolver interface {
	LoadOnDemand(name string) error
}

// NameSet answers membership queries for skills and agents.
type NameSet interface {
	Has(name string) bool
}

// NameSetFunc adapts a func to NameSet.
type NameSetFunc func(name string) bool

// Has implements NameSet.
func (f NameSetFunc) Has(name string) bool { return f(name) }

// Classifier resolves parsed mentions. @names are tried as tool, then
// skill, then agent; #paths resolve against the session uploads tree.
type Classifier struct {
	Tools      ToolResolver
	Skills     NameSet
	Agents     NameSet
	UploadsDir string
}

// Classify parses and resolves every mention in the text.
func (c *Classifier) Classify(text string) Classification {
	var out Classification
	parsed, cleaned := Parse(text)
	out.Cleaned = cleaned
	for _, m := range parsed {
		r := c.resolve(m)
		out.Resolved = append(out.Resolved, r)
		switch r.Kind {
		case KindTool:
			out.Tools = append(out.Tools, m.Name)
		case KindSkill:
			out.Skills = append(out.Skills, m.Name)
		case KindAgent:
			out.Agents = append(out.Agents, m.Name)
		case KindFile:
			out.Files = append(out.Files, r.Files...)
		case KindUnknown:
			out.Diagnostics = append(out.Diagnostics, unknownDiagnostic(m))
		}
	}
	return out
}

func (c *Classifier) resolve(m Mention) Resolved {
	r := Resolved{Mention: m, Kind: KindUnknown}
	switch m.Sigil {
	case SigilAt:
		if c.Tools != nil && c.Tools.LoadOnDemand(m.Name) == nil {
			r.Kind = KindTool
		} else if c.Skills != nil && c.Skills.Has(m.Name) {
			r.Kind = KindSkill
		} else if c.Agents != nil && c.Agents.Has(m.Name) {
			r.Kind = KindAgent
		}
	case SigilHash:
		files := c.matchUploads(m.Name)
		if len(files) > 0 {
			r.Kind = KindFile
			r.Files = files
		}
	}
	return r
}

// matchUploads resolves a #path reference: an exact file, a directory's
// direct children (`dir/`), a shallow glob (`dir/*.ext`), or a recursive
// glob (`**/*.ext`).
func (c *Classifier) matchUploads(ref string) []string {
	if c.UploadsDir == "" || strings.Contains(ref, "..") {
		return nil
	}

	switch {
	case strings.HasPrefix(ref, "**/"):
		return c.matchRecursive(ref)
	case strings.ContainsAny(ref, "*?"):
		matches, err := filepath.Glob(filepath.Join(c.UploadsDir, ref))
		if err != nil {
			return nil
		}
		return c.relFiles(matches)
	case strings.HasSuffix(ref, "/"):
		entries, err := os.ReadDir(filepath.Join(c.UploadsDir, strings.TrimSuffix(ref, "/")))
		if err != nil {
			return nil
		}
		var out []string
		for _, e := range entries {
			if !e.IsDir() {
				out = append(out, filepath.Join(strings.TrimSuffix(ref, "/"), e.Name()))
			}
		}
		return out
	default:
		full := filepath.Join(c.UploadsDir, ref)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return []string{ref}
		}
		return nil
	}
}

func (c *Classifier) matchRecursive(ref string) []string {
	pattern := strings.TrimPrefix(ref, "**/")
	var out []string
	_ = filepath.WalkDir(c.UploadsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			if rel, err := filepath.Rel(c.UploadsDir, path); err == nil {
				out = append(out, rel)
			}
		}
		return nil
	})
	return out
}

func (c *Classifier) relFiles(matches []string) []string {
	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if rel, err := filepath.Rel(c.UploadsDir, m); err == nil {
			out = append(out, rel)
		}
	}
	return out
}

func unknownDiagnostic(m Mention) string {
	if m.Sigil == SigilAt {
		return fmt.Sprintf("@%s did not match any tool, skill, or agent", m.Name)
	}
	return fmt.Sprintf("#%s did not match any uploaded file", m.Name)
}
