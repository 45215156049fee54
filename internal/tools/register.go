package tools

import (
	"arcadiaforge/internal/features"
	"arcadiaforge/internal/memory"
	"arcadiaforge/internal/security"
	"arcadiaforge/internal/store"
)

// Deps carries what the built-in tools need. Browser may be nil; the
// browser family is then left out of the catalog.
type Deps struct {
	ProjectDir string
	Store      *store.Store
	Features   *features.Registry
	Memory     *memory.Manager
	Browser    BrowserDriver

	// Gate vets commands started outside run_shell (server_start). Nil
	// skips the check.
	Gate *security.Gate

	// SessionID resolves the current session at call time; sessions roll
	// over while the registry stays up.
	SessionID func() int64
}

// NewDefault builds the full static catalog.
func NewDefault(deps Deps) *Registry {
	if deps.SessionID == nil {
		deps.SessionID = func() int64 { return 0 }
	}
	r := NewRegistry()

	r.MustRegister(ReadFileTool(deps.ProjectDir))
	r.MustRegister(WriteFileTool(deps.ProjectDir))
	r.MustRegister(EditFileTool(deps.ProjectDir))
	r.MustRegister(ListFilesTool(deps.ProjectDir))
	r.MustRegister(SearchFilesTool(deps.ProjectDir))

	r.MustRegister(RunShellTool(deps.ProjectDir))
	r.MustRegister(ServerStartTool(deps.ProjectDir, deps.Store, deps.Gate))
	r.MustRegister(ServerStopTool(deps.Store))
	r.MustRegister(ServerStatusTool(deps.Store))

	r.MustRegister(FeatureNextTool(deps.Features))
	r.MustRegister(FeatureShowTool(deps.Features))
	r.MustRegister(FeatureListTool(deps.Features))
	r.MustRegister(FeatureSearchTool(deps.Features))
	r.MustRegister(FeatureMarkTool(deps.Features))
	r.MustRegister(FeatureSkipTool(deps.Features))
	r.MustRegister(FeatureBlockTool(deps.Store))
	r.MustRegister(ProgressTool(deps.Features))

	r.MustRegister(MemorySearchTool(deps.Memory))
	r.MustRegister(DecisionLogTool(deps.Store, deps.SessionID))
	r.MustRegister(HypothesisLogTool(deps.Store, deps.SessionID))
	r.MustRegister(InterventionHistoryTool(deps.Store))

	if deps.Browser != nil {
		r.MustRegister(BrowserNavigateTool(deps.Browser))
		r.MustRegister(BrowserClickTool(deps.Browser))
		r.MustRegister(BrowserTypeTool(deps.Browser))
		r.MustRegister(BrowserScreenshotTool(deps.Browser, deps.ProjectDir, deps.Store, deps.SessionID))
	}

	return r
}
