package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const defaultShellTimeout = 30

var shellExecutables = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "fish": true, "dash": true, "ksh": true,
	"csh": true, "tcsh": true, "powershell": true, "pwsh": true, "cmd": true,
}

func newOsInteractionsToolset() *Toolset {
	return &Toolset{
		Name: ToolsetOsInteractions,
		Tools: []Tool{
			{
				Name: "shell",
				Description: "Execute a command and return its combined output. The command runs directly, without a shell interpreter: " +
					"do not pass shell executables (bash, sh, zsh, powershell, pwsh, cmd) and do not use shell operators such as &&, |, ; or >. " +
					"Only use this tool when no specialized tool fits.",
				Parameters: object([]string{"command"}, map[string]any{
					"command": prop("string", "The executable to run."),
					"args": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Arguments for the command.",
					},
					"cwd":     prop("string", "Working directory relative to the workspace directory. Default \".\"."),
					"timeout": prop("integer", "Timeout in seconds. Default 30."),
				}),
				Execute: runShell,
			},
		},
	}
}

func runShell(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var args struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
		Cwd     string   `json:"cwd"`
		Timeout int      `json:"timeout"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Command) == "" {
		return "", &RejectedCommandError{Command: args.Command, Reason: "command is required"}
	}
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(args.Command), ".exe"))
	if shellExecutables[base] {
		return "", &RejectedCommandError{Command: args.Command, Reason: "shell executables are not allowed"}
	}
	if args.Timeout <= 0 {
		args.Timeout = defaultShellTimeout
	}

	dir := resolvePath(env.Workdir, args.Cwd)
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(args.Timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args.Command, args.Args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", &TimeoutError{Seconds: args.Timeout}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", err
	}

	// A non-zero exit is still a result; the output carries the failure.
	output := TruncateOutput(string(out), OutputLimit(env.remaining()))
	return fmt.Sprintf("[Context: Current directory is %s]\n%s", dir, output), nil
}
