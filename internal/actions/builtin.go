package actions

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/jarvis/internal/policy"
)

// Argument structs for the builtin capabilities. The derived JSON
// Schemas are rendered into the prompt, so descriptions are written for
// the model.

type OpenAppArgs struct {
	App string `json:"app" jsonschema:"required" jsonschema_description:"Application to launch, e.g. cursor, browser, terminal."`
}

type ListFilesArgs struct {
	Directory string `json:"directory,omitempty" jsonschema_description:"Directory to list; defaults to the working directory."`
}

type RunCommandArgs struct {
	Command string `json:"command" jsonschema:"required" jsonschema_description:"Read-only shell command from the allowlist (ls, pwd, date, whoami, uptime)."`
}

const (
	runCommandTimeout = 5 * time.Second
	listFilesMax      = 10
)

// RegisterBuiltins installs the stock system capabilities. Call before
// Freeze; the registry is immutable once a session starts.
func RegisterBuiltins(r *Registry) error {
	caps := []*Capability{
		{
			Name:        "open_app",
			Description: "Launch a desktop application by name.",
			Triggers: []Trigger{
				{Phrase: "open cursor", Args: map[string]any{"app": "cursor"}},
				{Phrase: "open the browser", Args: map[string]any{"app": "browser"}},
				{Phrase: "open browser", Args: map[string]any{"app": "browser"}},
				{Phrase: "open a terminal", Args: map[string]any{"app": "terminal"}},
				{Phrase: "open terminal", Args: map[string]any{"app": "terminal"}},
			},
			InputSchema: GenerateSchema[OpenAppArgs](),
			Execute:     execOpenApp,
		},
		{
			Name:        "get_time",
			Description: "Tell the current time.",
			Triggers:    []Trigger{{Phrase: "what time is it"}, {Phrase: "what time"}},
			InputSchema: GenerateSchema[struct{}](),
			Execute: func(_ context.Context, _ map[string]any) (string, error) {
				return "The time is " + time.Now().Format("3:04 PM"), nil
			},
		},
		{
			Name:        "get_date",
			Description: "Tell today's date.",
			Triggers:    []Trigger{{Phrase: "what day is it"}, {Phrase: "today's date"}},
			InputSchema: GenerateSchema[struct{}](),
			Execute: func(_ context.Context, _ map[string]any) (string, error) {
				return "Today is " + time.Now().Format("Monday, January 2, 2006"), nil
			},
		},
		{
			Name:        "list_files",
			Description: "List files in a directory.",
			Triggers:    []Trigger{{Phrase: "list my files"}},
			InputSchema: GenerateSchema[ListFilesArgs](),
			Execute:     execListFiles,
		},
		{
			Name:        "run_command",
			Description: "Run an allowlisted read-only shell command.",
			InputSchema: GenerateSchema[RunCommandArgs](),
			Execute:     execRunCommand,
		},
	}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func execOpenApp(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["app"].(string)
	bin, ok := policy.ResolveApp(name)
	if !ok {
		return "", fmt.Errorf("unknown application %q (known: %s)", name, strings.Join(policy.KnownApps(), ", "))
	}
	cmd := exec.CommandContext(ctx, bin)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("launch %s: %w", bin, err)
	}
	// Detach: the assistant should not wait on a desktop app.
	go func() { _ = cmd.Wait() }()
	return fmt.Sprintf("Opened %s.", name), nil
}

func execListFiles(_ context.Context, args map[string]any) (string, error) {
	dir, _ := args["directory"].(string)
	if strings.TrimSpace(dir) == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	total := len(names)
	if len(names) > listFilesMax {
		names = names[:listFilesMax]
	}
	return fmt.Sprintf("Found %d items in %s: %s.", total, dir, strings.Join(names, ", ")), nil
}

func execRunCommand(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	decision := policy.AuthorizeCommand(command)
	if !decision.Allowed {
		return "", fmt.Errorf("refused: %s", decision.Reason)
	}
	parts := strings.Fields(command)
	runCtx, cancel := context.WithTimeout(ctx, runCommandTimeout)
	defer cancel()
	out, err := exec.CommandContext(runCtx, parts[0], parts[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("run %s: %w", parts[0], err)
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		text = "Command executed."
	}
	return text, nil
}
