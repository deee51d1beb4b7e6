package models

import (
	"strings"

	"github.com/google/uuid"
)

// SubagentContextPrefix marks a context id as belonging to a delegated
// child loop. The tool registry uses it to strip delegation tools from the
// visible catalog.
const SubagentContextPrefix = "subagent-"

// DefaultMaxLoops is the plan-act cycle ceiling for host agents.
const DefaultMaxLoops = 100

// AgentState is the complete per-session state threaded through the graph.
// Nodes never mutate it directly; they return a StateUpdate which the
// runtime applies.
type AgentState struct {
	Messages []Message `json:"messages"`
	Todos    []Todo    `json:"todos,omitempty"`

	Loops    int `json:"loops"`
	MaxLoops int `json:"max_loops"`

	CumulativePromptTokens     int `json:"cumulative_prompt_tokens"`
	CumulativeCompletionTokens int `json:"cumulative_completion_tokens"`

	NeedsCompression          bool `json:"needs_compression"`
	AutoCompressedThisRequest bool `json:"auto_compressed_this_request"`
	CompactCount              int  `json:"compact_count"`
	LastCompressionRatio      float64 `json:"last_compression_ratio,omitempty"`

	WorkspacePath string `json:"workspace_path,omitempty"`

	UploadedFiles    []string `json:"uploaded_files,omitempty"`
	NewUploadedFiles []string `json:"new_uploaded_files,omitempty"`

	MentionedAgents    []string `json:"mentioned_agents,omitempty"`
	NewMentionedAgents []string `json:"new_mentioned_agents,omitempty"`

	// SessionTools are tools promoted on demand for this session (mentions).
	SessionTools []string `json:"session_tools,omitempty"`
	// ActiveSkills are skills mounted into the session workspace.
	ActiveSkills []string `json:"active_skills,omitempty"`

	ContextID     string `json:"context_id"`
	ParentContext string `json:"parent_context,omitempty"`
	ThreadID      string `json:"thread_id"`

	// PendingNode is set while the graph is suspended at an interrupt; it
	// names the node to re-enter on resume.
	PendingNode string `json:"pending_node,omitempty"`
}

// NewAgentState returns a host-agent state with fresh identifiers.
func NewAgentState(threadID string) *AgentState {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return &AgentState{
		MaxLoops:  DefaultMaxLoops,
		ContextID: "host-" + uuid.NewString()[:8],
		ThreadID:  threadID,
	}
}

// IsSubagent reports whether this state belongs to a delegated child loop.
func (s *AgentState) IsSubagent() bool {
	return strings.HasPrefix(s.ContextID, SubagentContextPrefix)
}

// Clone returns a deep copy sharing no mutable structure with the receiver.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = CloneMessages(s.Messages)
	clone.Todos = CloneTodos(s.Todos)
	clone.UploadedFiles = append([]string(nil), s.UploadedFiles...)
	clone.NewUploadedFiles = append([]string(nil), s.NewUploadedFiles...)
	clone.MentionedAgents = append([]string(nil), s.MentionedAgents...)
	clone.NewMentionedAgents = append([]string(nil), s.NewMentionedAgents...)
	clone.SessionTools = append([]string(nil), s.SessionTools...)
	clone.ActiveSkills = append([]string(nil), s.ActiveSkills...)
	return &clone
}

// StateUpdate is a partial update returned by a graph node. Append fields
// accumulate, Replace fields overwrite wholesale, and pointer fields
// overwrite scalars only when set. The zero value is a no-op.
type StateUpdate struct {
	AppendMessages  []Message
	ReplaceMessages []Message // compression returns a whole new list
	ReplaceTodos    []Todo

	LoopsDelta int

	AddPromptTokens     int
	AddCompletionTokens int
	ResetTokenCounters  bool

	NeedsCompression          *bool
	AutoCompressedThisRequest *bool
	CompactCountDelta         int
	LastCompressionRatio      *float64

	AddUploadedFiles    []string
	SetNewUploadedFiles []string

	AddMentionedAgents    []string
	SetNewMentionedAgents []string

	AddSessionTools []string
	AddActiveSkills []string
}

// Apply merges the update into the state. Message replacement wins over
// appends within a single update.
func (s *AgentState) Apply(u *StateUpdate) {
	if u == nil {
		return
	}
	if u.ReplaceMessages != nil {
		s.Messages = u.ReplaceMessages
	}
	if len(u.AppendMessages) > 0 {
		s.Messages = append(s.Messages, u.AppendMessages...)
	}
	if u.ReplaceTodos != nil {
		s.Todos = NormalizeTodos(u.ReplaceTodos)
	}
	s.Loops += u.LoopsDelta
	if u.ResetTokenCounters {
		s.CumulativePromptTokens = 0
		s.CumulativeCompletionTokens = 0
	}
	s.CumulativePromptTokens += u.AddPromptTokens
	s.CumulativeCompletionTokens += u.AddCompletionTokens
	if u.NeedsCompression != nil {
		s.NeedsCompression = *u.NeedsCompression
	}
	if u.AutoCompressedThisRequest != nil {
		s.AutoCompressedThisRequest = *u.AutoCompressedThisRequest
	}
	s.CompactCount += u.CompactCountDelta
	if u.LastCompressionRatio != nil {
		s.LastCompressionRatio = *u.LastCompressionRatio
	}
	s.UploadedFiles = appendUnique(s.UploadedFiles, u.AddUploadedFiles)
	if u.SetNewUploadedFiles != nil {
		s.NewUploadedFiles = u.SetNewUploadedFiles
	}
	s.MentionedAgents = appendUnique(s.MentionedAgents, u.AddMentionedAgents)
	if u.SetNewMentionedAgents != nil {
		s.NewMentionedAgents = u.SetNewMentionedAgents
	}
	s.SessionTools = appendUnique(s.SessionTools, u.AddSessionTools)
	s.ActiveSkills = appendUnique(s.ActiveSkills, u.AddActiveSkills)
}

// BeginTurn clears the one-shot flags that coordinate reminders and the
// once-per-request compression guard.
func (s *AgentState) BeginTurn() {
	s.Loops = 0
	s.AutoCompressedThisRequest = false
	s.NewUploadedFiles = nil
	s.NewMentionedAgents = nil
}

// Bool returns a pointer to b, for StateUpdate scalar fields.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f, for StateUpdate scalar fields.
func Float(f float64) *float64 { return &f }

func appendUnique(dst, add []string) []string {
	if len(add) == 0 {
		return dst
	}
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range add {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		dst = append(dst, v)
	}
	return dst
}
