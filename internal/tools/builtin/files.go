// Package builtin provides the standard tool set agents start with: file
// inspection, file writing, command execution, and memory search.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pai-platform/pai/internal/permission"
	"github.com/pai-platform/pai/internal/tools"
)

const maxReadBytes = 512 * 1024

// ListFiles returns the list_files tool: a side-effect-free directory
// listing.
func ListFiles() *tools.Tool {
	return &tools.Tool{
		Name:        "list_files",
		Description: "List files and directories under a path. Supports an optional glob pattern.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory to list"},
				"pattern": {"type": "string", "description": "Optional glob pattern to filter entries"}
			},
			"required": ["path"]
		}`),
		Permission: permission.LevelStandard,
		Capability: permission.CapabilityFile,
		Handler: func(_ context.Context, args map[string]any) (*tools.Result, error) {
			dir, _ := args["path"].(string)
			pattern, _ := args["pattern"].(string)

			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", dir, err)
			}
			var names []string
			for _, entry := range entries {
				name := entry.Name()
				if pattern != "" {
					if ok, _ := filepath.Match(pattern, name); !ok {
						continue
					}
				}
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return tools.Ok(map[string]any{"path": dir, "entries": names}), nil
		},
	}
}

// ReadFile returns the read_file tool: a side-effect-free bounded file read.
func ReadFile() *tools.Tool {
	return &tools.Tool{
		Name:        "read_file",
		Description: "Read a text file. Large files are truncated.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File to read"}
			},
			"required": ["path"]
		}`),
		Permission: permission.LevelStandard,
		Capability: permission.CapabilityFile,
		Handler: func(_ context.Context, args map[string]any) (*tools.Result, error) {
			path, _ := args["path"].(string)
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			truncated := false
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
				truncated = true
			}
			res := tools.Ok(string(data))
			if truncated {
				res.Metadata = map[string]any{"truncated": true}
			}
			return res, nil
		},
	}
}

// WriteFile returns the write_file tool. It has side effects, requires
// confirmation, and is in the critical set.
func WriteFile() *tools.Tool {
	return &tools.Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File to write"},
				"content": {"type": "string", "description": "Content to write"}
			},
			"required": ["path", "content"]
		}`),
		Permission:           permission.LevelElevated,
		Capability:           permission.CapabilityFile,
		SideEffects:          true,
		RequiresConfirmation: true,
		Handler: func(_ context.Context, args map[string]any) (*tools.Result, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create parent dirs for %s: %w", path, err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			return tools.Ok(map[string]any{"path": path, "bytes_written": len(content)}), nil
		},
	}
}
