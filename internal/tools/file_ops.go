package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arcadiaforge/internal/logging"
)

// maxReadBytes caps what a single read hands back to the runtime.
const maxReadBytes = 256 * 1024

// resolvePath confines a tool-supplied path to the project directory.
// Absolute paths and traversal out of the root are rejected.
func resolvePath(projectDir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}
	abs := filepath.Join(projectDir, filepath.Clean(path))
	rel, err := filepath.Rel(projectDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the project root: %s", path)
	}
	return abs, nil
}

// ReadFileTool reads file contents, optionally a line range.
func ReadFileTool(projectDir string) *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read the contents of a file, optionally a line range",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path":       {Type: "string", Description: "File path relative to the project root"},
				"start_line": {Type: "integer", Description: "First line to include (1-indexed)"},
				"end_line":   {Type: "integer", Description: "Last line to include (inclusive)"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			abs, err := resolvePath(projectDir, stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}

			text := string(content)
			start := intArg(args, "start_line", 0)
			end := intArg(args, "end_line", 0)
			if start > 0 || end > 0 {
				lines := strings.Split(text, "\n")
				if start < 1 {
					start = 1
				}
				if end < 1 || end > len(lines) {
					end = len(lines)
				}
				if start > len(lines) {
					return nil, fmt.Errorf("start_line %d past end of file (%d lines)", start, len(lines))
				}
				text = strings.Join(lines[start-1:end], "\n")
			}
			if len(text) > maxReadBytes {
				text = text[:maxReadBytes] + "\n... [truncated]"
			}
			return &Output{Text: text, Files: []string{stringArg(args, "path")}}, nil
		},
	}
}

// WriteFileTool writes content to a file, creating parent directories.
func WriteFileTool(projectDir string) *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating it and parent directories as needed",
		Schema: Schema{
			Required: []string{"path", "content"},
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "File path relative to the project root"},
				"content": {Type: "string", Description: "Full content to write"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			rel := stringArg(args, "path")
			abs, err := resolvePath(projectDir, rel)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return nil, fmt.Errorf("create directories: %w", err)
			}
			content := stringArg(args, "content")
			if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write file: %w", err)
			}
			logging.Tools("wrote %s (%d bytes)", rel, len(content))
			return &Output{
				Text:  fmt.Sprintf("wrote %d bytes to %s", len(content), rel),
				Files: []string{rel},
			}, nil
		},
	}
}

// EditFileTool replaces an exact string occurrence in a file. The old text
// must appear exactly once so the edit cannot land in the wrong place.
func EditFileTool(projectDir string) *Tool {
	return &Tool{
		Name:        "edit_file",
		Description: "Replace an exact text occurrence in a file; the old text must be unique",
		Schema: Schema{
			Required: []string{"path", "old_text", "new_text"},
			Properties: map[string]Property{
				"path":     {Type: "string", Description: "File path relative to the project root"},
				"old_text": {Type: "string", Description: "Exact text to replace"},
				"new_text": {Type: "string", Description: "Replacement text"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			rel := stringArg(args, "path")
			abs, err := resolvePath(projectDir, rel)
			if err != nil {
				return nil, err
			}
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}
			oldText := stringArg(args, "old_text")
			if oldText == "" {
				return nil, fmt.Errorf("old_text is required")
			}
			switch n := strings.Count(string(content), oldText); {
			case n == 0:
				return nil, fmt.Errorf("old_text not found in %s", rel)
			case n > 1:
				return nil, fmt.Errorf("old_text appears %d times in %s; include more context", n, rel)
			}
			updated := strings.Replace(string(content), oldText, stringArg(args, "new_text"), 1)
			if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
				return nil, fmt.Errorf("write file: %w", err)
			}
			return &Output{Text: "edited " + rel, Files: []string{rel}}, nil
		},
	}
}

// ListFilesTool lists a directory, or matches a glob pattern.
func ListFilesTool(projectDir string) *Tool {
	return &Tool{
		Name:        "list_files",
		Description: "List files in a directory, or match a glob pattern like src/*.js",
		Schema: Schema{
			Required: nil,
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "Directory relative to the project root (default .)"},
				"pattern": {Type: "string", Description: "Glob pattern applied to file names"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			dir := stringArg(args, "path")
			if dir == "" {
				dir = "."
			}
			abs, err := resolvePath(projectDir, dir)
			if err != nil {
				return nil, err
			}
			pattern := stringArg(args, "pattern")

			entries, err := os.ReadDir(abs)
			if err != nil {
				return nil, fmt.Errorf("list directory: %w", err)
			}
			var names []string
			for _, e := range entries {
				name := e.Name()
				if pattern != "" {
					ok, err := filepath.Match(pattern, name)
					if err != nil {
						return nil, fmt.Errorf("bad pattern: %w", err)
					}
					if !ok {
						continue
					}
				}
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			if len(names) == 0 {
				return &Output{Text: "(empty)"}, nil
			}
			return &Output{Text: strings.Join(names, "\n")}, nil
		},
	}
}
