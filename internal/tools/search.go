package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	maxSearchMatches  = 100
	maxSearchFileSize = 1 << 20
)

// Directories never worth searching.
var skippedDirs = map[string]bool{
	".git":         true,
	".arcadia":     true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
}

// SearchFilesTool greps the project tree with a regular expression.
func SearchFilesTool(projectDir string) *Tool {
	return &Tool{
		Name:        "search_files",
		Description: "Search file contents with a regular expression, returning path:line matches",
		Schema: Schema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query":         {Type: "string", Description: "Regular expression to search for"},
				"path":          {Type: "string", Description: "Subdirectory to search (default whole project)"},
				"file_pattern":  {Type: "string", Description: "Glob applied to file names, e.g. *.go"},
				"ignore_case":   {Type: "boolean", Description: "Case-insensitive match", Default: false},
				"context_lines": {Type: "integer", Description: "Lines of context around each match", Default: 0},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Output, error) {
			query := stringArg(args, "query")
			if boolArg(args, "ignore_case", false) {
				query = "(?i)" + query
			}
			re, err := regexp.Compile(query)
			if err != nil {
				return nil, fmt.Errorf("bad query: %w", err)
			}

			root := stringArg(args, "path")
			if root == "" {
				root = "."
			}
			absRoot, err := resolvePath(projectDir, root)
			if err != nil {
				return nil, err
			}
			filePattern := stringArg(args, "file_pattern")
			contextLines := intArg(args, "context_lines", 0)

			var b strings.Builder
			matches := 0
			err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if skippedDirs[d.Name()] {
						return filepath.SkipDir
					}
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if matches >= maxSearchMatches {
					return filepath.SkipAll
				}
				if filePattern != "" {
					if ok, _ := filepath.Match(filePattern, d.Name()); !ok {
						return nil
					}
				}
				if info, err := d.Info(); err != nil || info.Size() > maxSearchFileSize {
					return nil
				}

				content, err := os.ReadFile(path)
				if err != nil || !utf8Like(content) {
					return nil
				}
				rel, _ := filepath.Rel(projectDir, path)
				lines := strings.Split(string(content), "\n")
				for i, line := range lines {
					if !re.MatchString(line) {
						continue
					}
					matches++
					from := max(0, i-contextLines)
					to := min(len(lines), i+contextLines+1)
					for j := from; j < to; j++ {
						fmt.Fprintf(&b, "%s:%d:%s\n", rel, j+1, lines[j])
					}
					if matches >= maxSearchMatches {
						break
					}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			if matches == 0 {
				return &Output{Text: "no matches"}, nil
			}
			text := b.String()
			if matches >= maxSearchMatches {
				text += fmt.Sprintf("... [stopped at %d matches]\n", maxSearchMatches)
			}
			return &Output{Text: text}, nil
		},
	}
}

// utf8Like rejects binary files cheaply: a NUL byte in the first KB.
func utf8Like(content []byte) bool {
	probe := content
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, c := range probe {
		if c == 0 {
			return false
		}
	}
	return true
}
