package approval

import (
	"encoding/json"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Builtin fallbacks for known-risky tools. These fire only when no
// configured rule matched, so operators can always override them.

// shellTools are tools whose arguments contain a shell command line.
var shellTools = map[string]bool{
	"run_shell": true,
	"bash":      true,
	"exec":      true,
}

// httpTools are tools that fetch a caller-supplied URL.
var httpTools = map[string]bool{
	"http_fetch": true,
	"web_fetch":  true,
}

type shellPattern struct {
	re        *regexp.Regexp
	riskLevel string
	reason    string
}

var builtinShellPatterns = []shellPattern{
	{regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\b`), RiskHigh, "detected high-risk rm -rf"},
	{regexp.MustCompile(`\bmkfs(\.\w+)?\b`), RiskCritical, "filesystem format command"},
	{regexp.MustCompile(`\bdd\s+if=`), RiskCritical, "raw disk write"},
	{regexp.MustCompile(`>\s*/dev/`), RiskCritical, "destructive device redirection"},
	{regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), RiskCritical, "fork bomb"},
	{regexp.MustCompile(`\bsudo\b`), RiskHigh, "privilege escalation"},
	{regexp.MustCompile(`\bchmod\s+777\b`), RiskMedium, "world-writable permissions"},
}

// builtinCheck applies the layer-4 fallbacks. ok is false when the tool
// has no builtin rules or nothing matched.
func builtinCheck(tool string, args json.RawMessage, text string) (Decision, bool) {
	switch {
	case shellTools[tool]:
		return checkShell(text)
	case httpTools[tool]:
		return checkHTTP(args)
	default:
		return Decision{}, false
	}
}

func checkShell(text string) (Decision, bool) {
	for _, p := range builtinShellPatterns {
		if p.re.MatchString(text) {
			return Decision{NeedsApproval: true, Reason: p.reason, RiskLevel: p.riskLevel}, true
		}
	}
	return Decision{}, false
}

// checkHTTP flags requests aimed at loopback, private, or link-local
// targets, which usually indicate SSRF-style probing of the host network.
func checkHTTP(args json.RawMessage) (Decision, bool) {
	var a struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.URL == "" {
		return Decision{}, false
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return Decision{}, false
	}
	host := u.Hostname()
	if host == "" {
		return Decision{}, false
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return Decision{NeedsApproval: true, Reason: "request targets localhost", RiskLevel: RiskHigh}, true
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return Decision{NeedsApproval: true, Reason: "request targets a private or local address", RiskLevel: RiskHigh}, true
		}
	}
	return Decision{}, false
}
