package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/loom/internal/graph"
	"github.com/haasonsaas/loom/internal/mentions"
	"github.com/haasonsaas/loom/internal/sessions"
	"github.com/haasonsaas/loom/internal/skills"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/workspace"
	"github.com/haasonsaas/loom/pkg/models"
)

// SessionManager owns the per-thread lifecycle around graph runs: loading
// and saving state, provisioning the workspace, resolving mentions, and
// mounting skills before the planner sees the message.
type SessionManager struct {
	Runtime    *Runtime
	Store      sessions.Store
	Workspaces *workspace.Manager
	Skills     *skills.Catalog
	Agents     mentions.NameSet

	// CoreSkills are mounted into every session.
	CoreSkills []string
	// AutoLoadSkills turns on upload-triggered skill mounting;
	// SkillFileTypes maps skill ids to the upload extensions that pull
	// them in.
	AutoLoadSkills bool
	SkillFileTypes map[string][]string

	MaxLoops int
	Logger   *slog.Logger
}

func (m *SessionManager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Run starts one user turn on a thread, creating the session on first
// contact. The returned channel streams graph snapshots; the state is
// live and mutates as the run progresses.
func (m *SessionManager) Run(ctx context.Context, threadID, input string) (<-chan graph.Snapshot, *models.AgentState, error) {
	state, err := m.loadOrCreate(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	if state.PendingNode != "" {
		return nil, nil, fmt.Errorf("session %s is suspended at an interrupt; resume it instead", threadID)
	}
	state.BeginTurn()

	if err := m.prepare(state, input); err != nil {
		return nil, nil, err
	}

	ch, err := m.Runtime.Graph(m.Store).Run(ctx, state)
	if err != nil {
		return nil, nil, err
	}
	return ch, state, nil
}

// Resume re-enters a suspended session with the host's answer: the
// approve/reject sentinel for tool approvals, or the user's reply for
// input requests.
func (m *SessionManager) Resume(ctx context.Context, threadID string, value any) (<-chan graph.Snapshot, *models.AgentState, error) {
	state, err := m.Store.Load(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	ch, err := m.Runtime.Graph(m.Store).Resume(ctx, state, value)
	if err != nil {
		return nil, nil, err
	}
	return ch, state, nil
}

func (m *SessionManager) loadOrCreate(ctx context.Context, threadID string) (*models.AgentState, error) {
	state, err := m.Store.Load(ctx, threadID)
	if errors.Is(err, sessions.ErrNotFound) {
		state = models.NewAgentState(threadID)
		if m.MaxLoops > 0 {
			state.MaxLoops = m.MaxLoops
		}
		return state, nil
	}
	return state, err
}

// prepare provisions the workspace, classifies mentions, mounts mentioned
// skills, and appends the user message. Mention diagnostics ride along in
// the message so the model can correct the user.
func (m *SessionManager) prepare(state *models.AgentState, input string) error {
	path, err := m.Workspaces.Ensure(state.ThreadID)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	state.WorkspacePath = path

	cls := m.classifier(state).Classify(input)

	wanted := append([]string{}, cls.Skills...)
	wanted = append(wanted, m.CoreSkills...)
	if m.AutoLoadSkills {
		wanted = append(wanted, m.autoLoadSkills(cls.Files)...)
	}

	state.Apply(&models.StateUpdate{
		AddSessionTools:       cls.Tools,
		AddActiveSkills:       wanted,
		AddMentionedAgents:    cls.Agents,
		SetNewMentionedAgents: cls.Agents,
		AddUploadedFiles:      cls.Files,
		SetNewUploadedFiles:   cls.Files,
	})

	for _, name := range wanted {
		skill, ok := m.Skills.Get(name)
		if !ok {
			continue
		}
		if err := m.Workspaces.MountSkill(state.ThreadID, skill); err != nil {
			m.logger().Warn("skill mount failed", "skill", name, "error", err, "thread_id", state.ThreadID)
		}
	}

	text := cls.Cleaned
	if len(cls.Diagnostics) > 0 {
		text += "\n\n[mentions] " + strings.Join(cls.Diagnostics, "; ")
	}
	state.Messages = append(state.Messages, models.UserMessage(text))
	return nil
}

// autoLoadSkills resolves which skills the uploads referenced this turn
// should pull in, by file extension.
func (m *SessionManager) autoLoadSkills(files []string) []string {
	if len(m.SkillFileTypes) == 0 || len(files) == 0 {
		return nil
	}
	var out []string
	for _, f := range files {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f)), ".")
		if ext == "" {
			continue
		}
		for id, exts := range m.SkillFileTypes {
			for _, e := range exts {
				if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
					out = append(out, id)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func (m *SessionManager) classifier(state *models.AgentState) *mentions.Classifier {
	agents := m.Agents
	if agents == nil {
		agents = mentions.NameSetFunc(func(string) bool { return false })
	}
	return &mentions.Classifier{
		Tools:      registryResolver{m.Runtime.Registry},
		Skills:     catalogSet{m.Skills},
		Agents:     agents,
		UploadsDir: m.Workspaces.UploadsPath(state.ThreadID),
	}
}

// registryResolver adapts the tool registry to the mention resolver.
type registryResolver struct {
	registry *tools.Registry
}

func (r registryResolver) LoadOnDemand(name string) error {
	_, err := r.registry.LoadOnDemand(name)
	return err
}

// catalogSet adapts the skill catalog to the mention name set.
type catalogSet struct {
	catalog *skills.Catalog
}

func (c catalogSet) Has(name string) bool {
	return c.catalog != nil && c.catalog.Has(name)
}
