package policy

import (
	"regexp"
	"sort"
	"strings"
)

// CommandDecision is the verdict on a shell command an action wants to run.
type CommandDecision struct {
	Allowed bool
	Reason  string
}

var (
	blockedCommandPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf\b`),
		regexp.MustCompile(`(?i)\bcat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
		regexp.MustCompile(`(?i)[;&|]`),
		regexp.MustCompile(`(?i)\$\(|` + "`"),
	}

	// Read-only commands an assistant may run on the host. Anything
	// outside this set is refused outright.
	allowedCommands = map[string]struct{}{
		"ls":     {},
		"pwd":    {},
		"date":   {},
		"whoami": {},
		"uptime": {},
	}

	// Desktop programs the open_app action may launch.
	allowedApps = map[string]string{
		"cursor":   "cursor",
		"browser":  "xdg-open",
		"firefox":  "firefox",
		"terminal": "gnome-terminal",
		"files":    "nautilus",
	}
)

// AuthorizeCommand decides whether a command line may be executed.
// Only the leading program name is consulted against the allowlist;
// shell metacharacters anywhere reject the whole line.
func AuthorizeCommand(command string) CommandDecision {
	command = strings.TrimSpace(command)
	if command == "" {
		return CommandDecision{Allowed: false, Reason: "empty command"}
	}
	for _, re := range blockedCommandPatterns {
		if re.MatchString(command) {
			return CommandDecision{Allowed: false, Reason: "command contains blocked constructs"}
		}
	}
	program := strings.Fields(command)[0]
	if _, ok := allowedCommands[program]; !ok {
		return CommandDecision{Allowed: false, Reason: "command " + program + " is not on the allowlist"}
	}
	return CommandDecision{Allowed: true}
}

// ResolveApp maps a spoken application name to the binary to launch.
func ResolveApp(name string) (string, bool) {
	bin, ok := allowedApps[strings.ToLower(strings.TrimSpace(name))]
	return bin, ok
}

// KnownApps lists the spoken names open_app accepts, for error messages.
func KnownApps() []string {
	out := make([]string, 0, len(allowedApps))
	for name := range allowedApps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
