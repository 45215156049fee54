package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// BrowserDriver is what the browser package provides: a live page the
// tools can drive. Kept as an interface so tests run without a browser.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
}

// BrowserNavigateTool loads a URL in the evidence browser.
func BrowserNavigateTool(driver BrowserDriver) *Tool {
	return &Tool{
		Name:        "browser_navigate",
		Description: "Navigate the browser to a URL and wait for the page to load",
		Schema: Schema{
			Required: []string{"url"},
			Properties: map[string]Property{
				"url": {Type: "string", Description: "The URL to open"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Output, error) {
			url := stringArg(args, "url")
			if err := driver.Navigate(ctx, url); err != nil {
				return nil, fmt.Errorf("navigate to %s: %w", url, err)
			}
			return &Output{Text: "loaded " + url}, nil
		},
	}
}

// BrowserClickTool clicks an element by CSS selector.
func BrowserClickTool(driver BrowserDriver) *Tool {
	return &Tool{
		Name:        "browser_click",
		Description: "Click the element matching a CSS selector",
		Schema: Schema{
			Required: []string{"selector"},
			Properties: map[string]Property{
				"selector": {Type: "string", Description: "CSS selector of the element"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Output, error) {
			selector := stringArg(args, "selector")
			if err := driver.Click(ctx, selector); err != nil {
				return nil, fmt.Errorf("click %s: %w", selector, err)
			}
			return &Output{Text: "clicked " + selector}, nil
		},
	}
}

// BrowserTypeTool types text into an element.
func BrowserTypeTool(driver BrowserDriver) *Tool {
	return &Tool{
		Name:        "browser_type",
		Description: "Type text into the element matching a CSS selector",
		Schema: Schema{
			Required: []string{"selector", "text"},
			Properties: map[string]Property{
				"selector": {Type: "string", Description: "CSS selector of the input"},
				"text":     {Type: "string", Description: "Text to type"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Output, error) {
			selector := stringArg(args, "selector")
			if err := driver.Type(ctx, selector, stringArg(args, "text")); err != nil {
				return nil, fmt.Errorf("type into %s: %w", selector, err)
			}
			return &Output{Text: "typed into " + selector}, nil
		},
	}
}

// BrowserScreenshotTool captures the page as an evidence artifact: the
// image lands under verification/ and a checksummed Artifact row records it.
func BrowserScreenshotTool(driver BrowserDriver, projectDir string, st *store.Store, sessionID func() int64) *Tool {
	return &Tool{
		Name:        "browser_screenshot",
		Description: "Screenshot the current page as verification evidence for a feature",
		Schema: Schema{
			Required: []string{"feature_index", "label"},
			Properties: map[string]Property{
				"feature_index": {Type: "integer", Description: "Feature the evidence belongs to"},
				"label":         {Type: "string", Description: "Short label, e.g. login-page"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Output, error) {
			img, err := driver.Screenshot(ctx)
			if err != nil {
				return nil, fmt.Errorf("screenshot: %w", err)
			}

			index := intArg(args, "feature_index", 0)
			rel := filepath.Join("verification",
				fmt.Sprintf("feature_%d_%s.png", index, slugify(stringArg(args, "label"))))
			abs := filepath.Join(projectDir, rel)
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(abs, img, 0o644); err != nil {
				return nil, fmt.Errorf("save screenshot: %w", err)
			}

			sum := sha256.Sum256(img)
			id, err := st.SaveArtifact(&types.Artifact{
				SessionID: sessionID(),
				Type:      types.ArtifactScreenshot,
				Path:      rel,
				Checksum:  hex.EncodeToString(sum[:]),
				Metadata:  map[string]any{"feature_index": index},
			})
			if err != nil {
				return nil, fmt.Errorf("record artifact: %w", err)
			}
			logging.Tools("captured %s as artifact %s", rel, id)
			return &Output{Text: fmt.Sprintf("artifact %s saved at %s", id, rel), Files: []string{rel}}, nil
		},
	}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = slugRe.ReplaceAllString(strings.ToLower(s), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "evidence"
	}
	return s
}
