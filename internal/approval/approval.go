// Package approval decides whether a pending tool call needs human
// confirmation. Four layers are consulted in priority order: a custom
// checker registered for the tool, global risk patterns, per-tool
// patterns, and builtin fallbacks for known-risky tools. The first layer
// that produces a verdict wins.
package approval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Risk levels, ordered from most to least severe.
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
	RiskLow      = "low"
)

// rejectionPrefix is the canonical content of a rejected tool call's
// result. The exact literal is relied on by transcript consumers.
const rejectionPrefix = "❌ 操作已取消: "

// Decision is the engine's verdict for one (tool, args) pair.
type Decision struct {
	NeedsApproval bool   `json:"needs_approval"`
	Reason        string `json:"reason,omitempty"`
	RiskLevel     string `json:"risk_level,omitempty"`
}

// Checker is a programmatic approval hook for one tool. Returning nil
// defers to the pattern layers.
type Checker func(args json.RawMessage) *Decision

// Rule is one configured pattern set at a single risk level.
type Rule struct {
	RiskLevel string   `yaml:"risk_level"`
	Patterns  []string `yaml:"patterns"`
	Reason    string   `yaml:"reason"`
}

// Rules is the on-disk HITL rule file: global patterns applied to every
// tool, plus per-tool pattern lists.
type Rules struct {
	Global  []Rule            `yaml:"global_patterns"`
	PerTool map[string][]Rule `yaml:"tool_patterns"`
}

type compiledRule struct {
	riskLevel string
	reason    string
	patterns  []*regexp.Regexp
}

// Engine evaluates tool calls. Rules are compiled once at construction
// and frozen; custom checkers are registered before the engine is shared.
type Engine struct {
	checkers map[string]Checker
	global   []compiledRule
	perTool  map[string][]compiledRule
}

var severityRank = map[string]int{
	RiskCritical: 0,
	RiskHigh:     1,
	RiskMedium:   2,
	RiskLow:      3,
}

// NewEngine compiles the rule file into an engine. Invalid regexes are
// rejected so misconfigurations surface at startup, not mid-session.
func NewEngine(rules Rules) (*Engine, error) {
	e := &Engine{
		checkers: make(map[string]Checker),
		perTool:  make(map[string][]compiledRule),
	}

	global, err := compileRules(rules.Global)
	if err != nil {
		return nil, fmt.Errorf("global patterns: %w", err)
	}
	// Global rules scan in severity order regardless of file order.
	sort.SliceStable(global, func(i, j int) bool {
		return severityRank[global[i].riskLevel] < severityRank[global[j].riskLevel]
	})
	e.global = global

	for tool, rs := range rules.PerTool {
		compiled, err := compileRules(rs)
		if err != nil {
			return nil, fmt.Errorf("tool %s patterns: %w", tool, err)
		}
		e.perTool[tool] = compiled
	}
	return e, nil
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{riskLevel: r.RiskLevel, reason: r.Reason}
		if cr.riskLevel == "" {
			cr.riskLevel = RiskMedium
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		out = append(out, cr)
	}
	return out, nil
}

// RegisterChecker installs a custom checker for one tool, overriding all
// pattern layers. Call before the engine is shared across sessions.
func (e *Engine) RegisterChecker(tool string, fn Checker) {
	e.checkers[tool] = fn
}

// Check runs the four layers for a pending tool call.
func (e *Engine) Check(tool string, args json.RawMessage) Decision {
	if fn, ok := e.checkers[tool]; ok {
		if d := fn(args); d != nil {
			return *d
		}
	}

	text := flattenArgs(args)

	for _, cr := range e.global {
		if d, ok := cr.match(text); ok {
			return d
		}
	}
	for _, cr := range e.perTool[tool] {
		if d, ok := cr.match(text); ok {
			return d
		}
	}
	if d, ok := builtinCheck(tool, args, text); ok {
		return d
	}
	return Decision{}
}

func (cr compiledRule) match(text string) (Decision, bool) {
	for _, re := range cr.patterns {
		if re.MatchString(text) {
			reason := cr.reason
			if reason == "" {
				reason = fmt.Sprintf("matched %s pattern %s", cr.riskLevel, re.String())
			}
			return Decision{NeedsApproval: true, Reason: reason, RiskLevel: cr.riskLevel}, true
		}
	}
	return Decision{}, false
}

// RejectionContent renders the tool-result content for a call the human
// rejected.
func RejectionContent(reason string) string {
	if reason == "" {
		reason = "用户拒绝了此操作"
	}
	return rejectionPrefix + reason
}

// flattenArgs concatenates every stringified value in the args object.
// Patterns match against values, not key names, so `{"cmd":"sudo rm"}`
// and `{"script":{"body":"sudo rm"}}` are both caught.
func flattenArgs(args json.RawMessage) string {
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return string(args)
	}
	var parts []string
	collectValues(v, &parts)
	return strings.Join(parts, " ")
}

func collectValues(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case float64:
		*out = append(*out, fmt.Sprintf("%v", t))
	case bool:
		*out = append(*out, fmt.Sprintf("%v", t))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectValues(t[k], out)
		}
	case []any:
		for _, item := range t {
			collectValues(item, out)
		}
	}
}
