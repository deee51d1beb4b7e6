// Package workspace manages per-session sandboxes: a fixed directory
// layout, skill mounting, and TTL cleanup. Sessions are single-threaded,
// so operations on one session id need no locking; distinct session ids
// are fully independent.
package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/loom/internal/skills"
)

// Subdirectories created in every session workspace.
const (
	SkillsDir  = "skills"
	UploadsDir = "uploads"
	OutputsDir = "outputs"
	TempDir    = "temp"
)

// MetadataFile records session bookkeeping at the workspace root.
const MetadataFile = ".metadata.json"

// DefaultCleanupAgeDays is the workspace TTL.
const DefaultCleanupAgeDays = 7

// Metadata is the content of .metadata.json.
type Metadata struct {
	SessionID       string    `json:"session_id"`
	CreatedAt       time.Time `json:"created_at"`
	MentionedSkills []string  `json:"mentioned_skills"`
}

// Manager creates and maintains session workspaces under a root.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates a workspace manager rooted at dir.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, logger: logger}
}

// Root returns the manager's base directory.
func (m *Manager) Root() string { return m.root }

// Path returns the workspace directory for a session id.
func (m *Manager) Path(sessionID string) string {
	return filepath.Join(m.root, sessionID)
}

// UploadsPath returns the uploads directory for a session id.
func (m *Manager) UploadsPath(sessionID string) string {
	return filepath.Join(m.Path(sessionID), UploadsDir)
}

// Ensure creates the workspace layout for a session if it does not exist
// and returns its path. Existing workspaces are returned untouched. New
// workspaces are seeded with an AGENTS.md instructions file.
func (m *Manager) Ensure(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	dir := m.Path(sessionID)
	metaPath := filepath.Join(dir, MetadataFile)
	if _, err := os.Stat(metaPath); err == nil {
		return dir, nil
	}

	for _, sub := range []string{SkillsDir, UploadsDir, OutputsDir, TempDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("create workspace %s: %w", sessionID, err)
		}
	}
	meta := Metadata{SessionID: sessionID, CreatedAt: time.Now().UTC()}
	if err := m.writeMetadata(dir, meta); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte(agentsSeed), 0o644); err != nil {
		return "", fmt.Errorf("seed workspace %s: %w", sessionID, err)
	}
	m.logger.Info("workspace created", "session_id", sessionID, "path", dir)
	return dir, nil
}

// agentsSeed is the instructions file every new workspace starts with.
const agentsSeed = `# AGENTS.md - Workspace Instructions

This workspace is the agent's working directory for one session.

## Layout
- skills/   mounted skill bundles; read their documentation before use
- uploads/  files the user attached; reference them with #path mentions
- outputs/  deliverables you produce
- temp/     scratch space, cleaned up with the workspace

## Workflow
- Put longer output in files under outputs/, keep chat concise.
- Avoid destructive actions unless explicitly requested.
`

// MountSkill makes a skill bundle available under skills/<id>. A symlink
// is preferred; on filesystems without symlink support the bundle is
// copied. Mounting an already-mounted skill is a no-op.
func (m *Manager) MountSkill(sessionID string, skill skills.Skill) error {
	dir, err := m.Ensure(sessionID)
	if err != nil {
		return err
	}
	target := filepath.Join(dir, SkillsDir, skill.ID)
	if _, err := os.Lstat(target); err == nil {
		return nil
	}

	if err := os.Symlink(skill.Path, target); err != nil {
		m.logger.Debug("symlink failed, copying skill", "skill", skill.ID, "error", err)
		if err := copyTree(skill.Path, target); err != nil {
			return fmt.Errorf("mount skill %s: %w", skill.ID, err)
		}
	}

	meta, err := m.readMetadata(dir)
	if err != nil {
		return err
	}
	for _, id := range meta.MentionedSkills {
		if id == skill.ID {
			return nil
		}
	}
	meta.MentionedSkills = append(meta.MentionedSkills, skill.ID)
	return m.writeMetadata(dir, meta)
}

// Cleanup removes workspaces whose metadata created_at is older than the
// cutoff. ageDays of 0 or less uses the default TTL. Returns the session
// ids removed.
func (m *Manager) Cleanup(ageDays int) ([]string, error) {
	if ageDays <= 0 {
		ageDays = DefaultCleanupAgeDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -ageDays)

	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace root: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		meta, err := m.readMetadata(dir)
		if err != nil {
			// Not a workspace we created; leave it alone.
			continue
		}
		if meta.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("failed to remove expired workspace", "session_id", entry.Name(), "error", err)
			continue
		}
		removed = append(removed, entry.Name())
		m.logger.Info("workspace removed", "session_id", entry.Name(), "age_days", ageDays)
	}
	return removed, nil
}

func (m *Manager) readMetadata(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse workspace metadata: %w", err)
	}
	return meta, nil
}

func (m *Manager) writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("write workspace metadata: %w", err)
	}
	return nil
}

// copyTree copies a directory recursively. Used when symlinks are
// unavailable.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
