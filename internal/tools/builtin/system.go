package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/pai-platform/pai/internal/permission"
	"github.com/pai-platform/pai/internal/tools"
)

const (
	defaultCommandTimeout = 60 * time.Second
	maxCommandTimeout     = 300 * time.Second
	maxCommandOutput      = 256 * 1024
)

// RunCommand returns the run_command tool: shell execution with a bounded
// timeout. It sits at the SYSTEM level and allows elevation up to admin.
func RunCommand() *tools.Tool {
	return &tools.Tool{
		Name:        "run_command",
		Description: "Run a shell command and return its combined output. Commands time out after 60 seconds by default (300 maximum).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to run"},
				"working_dir": {"type": "string", "description": "Optional working directory"},
				"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 300, "description": "Optional timeout override"}
			},
			"required": ["command"]
		}`),
		Permission:           permission.LevelSystem,
		Capability:           permission.CapabilitySystem,
		SideEffects:          true,
		AllowsElevation:      true,
		MaxElevationLevel:    permission.LevelAdmin,
		RequiresConfirmation: true,
		Handler: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			command, _ := args["command"].(string)
			workingDir, _ := args["working_dir"].(string)

			timeout := defaultCommandTimeout
			if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
				timeout = time.Duration(secs) * time.Second
				if timeout > maxCommandTimeout {
					timeout = maxCommandTimeout
				}
			}

			cmdCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
			if workingDir != "" {
				cmd.Dir = workingDir
			}
			var output bytes.Buffer
			cmd.Stdout = &output
			cmd.Stderr = &output

			start := time.Now()
			err := cmd.Run()
			duration := time.Since(start)

			text := output.String()
			if len(text) > maxCommandOutput {
				text = text[:maxCommandOutput] + "\n... [output truncated]"
			}

			exitCode := -1
			if cmd.ProcessState != nil {
				exitCode = cmd.ProcessState.ExitCode()
			}
			meta := map[string]any{
				"duration_ms": duration.Milliseconds(),
				"exit_code":   exitCode,
			}
			if cmdCtx.Err() == context.DeadlineExceeded {
				res := tools.Fail("command timed out after %s", timeout)
				res.Output = text
				res.Metadata = meta
				return res, nil
			}
			if err != nil {
				res := tools.Fail("command failed: %v", err)
				res.Output = text
				res.Metadata = meta
				return res, nil
			}
			res := tools.Ok(text)
			res.Metadata = meta
			return res, nil
		},
	}
}
