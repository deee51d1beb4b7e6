package mentions

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func TestParseBasics(t *testing.T) {
	tests := []struct {
		text    string
		want    []Mention
		cleaned string
	}{
		{"use @search please", []Mention{{SigilAt, "search"}}, "use search please"},
		{"@a @b @a dedupe", []Mention{{SigilAt, "a"}, {SigilAt, "b"}}, "a b a dedupe"},
		{"see #notes/plan.md", []Mention{{SigilHash, "notes/plan.md"}}, "see notes/plan.md"},
		{"## Heading is not a mention", nil, "## Heading is not a mention"},
		{"# also not a mention", nil, "# also not a mention"},
		{"glob #data/*.csv and #**/*.md", []Mention{{SigilHash, "data/*.csv"}, {SigilHash, "**/*.md"}}, "glob data/*.csv and **/*.md"},
		{"email a@b.com is not a mention", nil, "email a@b.com is not a mention"},
		{"end of sentence @tool.", []Mention{{SigilAt, "tool"}}, "end of sentence tool."},
		{"", nil, ""},
	}
	for _, tt := range tests {
		got, cleaned := Parse(tt.text)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
		}
		if cleaned != tt.cleaned {
			t.Errorf("Parse(%q) cleaned = %q, want %q", tt.text, cleaned, tt.cleaned)
		}
	}
}

func TestParseIdempotent(t *testing.T) {
	text := "run @deploy on #configs/prod.yaml"
	first, firstCleaned := Parse(text)
	second, secondCleaned := Parse(text)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("parse not stable: %v vs %v", first, second)
	}
	if firstCleaned != secondCleaned {
		t.Fatalf("cleaned text not stable: %q vs %q", firstCleaned, secondCleaned)
	}
	// Cleaned text is a fixpoint: nothing left to strip.
	if _, again := Parse(firstCleaned); again != firstCleaned {
		t.Fatalf("cleaned text not a fixpoint: %q vs %q", again, firstCleaned)
	}
}

type toolResolverFunc func(string) error

func (f toolResolverFunc) LoadOnDemand(name string) error { return f(name) }

func testClassifier(t *testing.T) (*Classifier, string) {
	t.Helper()
	uploads := t.TempDir()
	for _, p := range []string{"report.md", "data/a.csv", "data/b.csv", "data/deep/c.csv", "notes/x.md"} {
		full := filepath.Join(uploads, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	c := &Classifier{
		Tools: toolResolverFunc(func(name string) error {
			if name == "search" {
				return nil
			}
			return errors.New("unknown tool")
		}),
		Skills:     NameSetFunc(func(name string) bool { return name == "pdf-builder" }),
		Agents:     NameSetFunc(func(name string) bool { return name == "researcher" }),
		UploadsDir: uploads,
	}
	return c, uploads
}

func TestClassifyResolutionOrder(t *testing.T) {
	c, _ := testClassifier(t)
	got := c.Classify("ask @search with @pdf-builder and @researcher plus @nobody")

	if !reflect.DeepEqual(got.Tools, []string{"search"}) {
		t.Errorf("tools = %v", got.Tools)
	}
	if !reflect.DeepEqual(got.Skills, []string{"pdf-builder"}) {
		t.Errorf("skills = %v", got.Skills)
	}
	if !reflect.DeepEqual(got.Agents, []string{"researcher"}) {
		t.Errorf("agents = %v", got.Agents)
	}
	if len(got.Diagnostics) != 1 {
		t.Errorf("diagnostics = %v", got.Diagnostics)
	}
}

func TestClassifyFileForms(t *testing.T) {
	c, _ := testClassifier(t)
	tests := []struct {
		ref  string
		want []string
	}{
		{"#report.md", []string{"report.md"}},
		{"#data/", []string{"data/a.csv", "data/b.csv"}},
		{"#data/*.csv", []string{"data/a.csv", "data/b.csv"}},
		{"#**/*.csv", []string{"data/a.csv", "data/b.csv", "data/deep/c.csv"}},
		{"#missing.txt", nil},
	}
	for _, tt := range tests {
		got := c.Classify(tt.ref)
		files := append([]string(nil), got.Files...)
		sort.Strings(files)
		if !reflect.DeepEqual(files, tt.want) {
			t.Errorf("Classify(%q).Files = %v, want %v", tt.ref, files, tt.want)
		}
	}
}

func TestClassifyRejectsTraversal(t *testing.T) {
	c, _ := testClassifier(t)
	got := c.Classify("#../../etc/passwd")
	if len(got.Files) != 0 {
		t.Fatalf("traversal resolved files: %v", got.Files)
	}
	if len(got.Diagnostics) != 1 {
		t.Errorf("expected unknown diagnostic, got %v", got.Diagnostics)
	}
}

func TestUnknownMentionIsDiagnosticNotError(t *testing.T) {
	c := &Classifier{} // no resolvers at all
	got := c.Classify("@ghost #nowhere.txt")
	if len(got.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %v", got.Diagnostics)
	}
}
