// Package skills discovers skill bundles: directories carrying a
// skill.yaml manifest. Skills are never executed by the core; the
// workspace manager mounts them into a session sandbox where their
// documentation is readable through ordinary file tools.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file identifying a directory as a skill.
const ManifestName = "skill.yaml"

// Skill is one discovered bundle.
type Skill struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Version     string `yaml:"version" json:"version"`

	// Path is the bundle directory on disk, set during discovery.
	Path string `yaml:"-" json:"path"`
}

// Catalog is the discovered skill set, keyed by id.
type Catalog struct {
	skills map[string]Skill
}

// Discover walks the given roots looking for skill directories. Each
// immediate subdirectory with a skill.yaml becomes a skill; later roots
// override earlier ones on id collision. Missing roots are skipped,
// malformed manifests are logged and skipped.
func Discover(roots []string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	cat := &Catalog{skills: make(map[string]Skill)}
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("cannot read skills root", "path", root, "error", err)
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			skill, err := loadSkill(dir)
			if err != nil {
				if !os.IsNotExist(err) {
					logger.Warn("skipping invalid skill", "path", dir, "error", err)
				}
				continue
			}
			cat.skills[skill.ID] = skill
			logger.Debug("discovered skill", "id", skill.ID, "path", dir)
		}
	}
	return cat
}

func loadSkill(dir string) (Skill, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return Skill{}, err
	}
	var s Skill
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Skill{}, fmt.Errorf("parse manifest: %w", err)
	}
	if s.ID == "" {
		return Skill{}, fmt.Errorf("manifest missing id")
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	s.Path = dir
	return s, nil
}

// Get returns a skill by id.
func (c *Catalog) Get(id string) (Skill, bool) {
	s, ok := c.skills[id]
	return s, ok
}

// Has reports whether an id is known. Satisfies the mention classifier's
// NameSet.
func (c *Catalog) Has(id string) bool {
	_, ok := c.skills[id]
	return ok
}

// List returns all skills sorted by id.
func (c *Catalog) List() []Skill {
	out := make([]Skill, 0, len(c.skills))
	for _, s := range c.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
