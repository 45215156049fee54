// Package supervisor runs the session lifecycle: prepare, run, watch,
// settle, persist, loop. It owns crash recovery, stall and cyclic
// detection, budget enforcement, and clean pause/resume. One supervisor
// process runs per project directory, enforced by the store's lock.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"arcadiaforge/internal/autonomy"
	"arcadiaforge/internal/browser"
	"arcadiaforge/internal/budget"
	"arcadiaforge/internal/checkpoint"
	"arcadiaforge/internal/config"
	"arcadiaforge/internal/eventlog"
	"arcadiaforge/internal/failure"
	"arcadiaforge/internal/features"
	"arcadiaforge/internal/hooks"
	"arcadiaforge/internal/human"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/memory"
	"arcadiaforge/internal/risk"
	"arcadiaforge/internal/runtime"
	"arcadiaforge/internal/security"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/tools"
	"arcadiaforge/internal/types"
)

// ExitCode is the supervisor process exit code contract.
type ExitCode int

const (
	ExitOK     ExitCode = 0  // all features passing, or explicit stop
	ExitPaused ExitCode = 10 // paused cleanly; restart to resume
	ExitBudget ExitCode = 20 // budget exceeded
	ExitConfig ExitCode = 30 // unrecoverable configuration error
	ExitCrash  ExitCode = 40 // crash during recovery, manual intervention
)

// ErrNoSpec means the project has neither features nor an app_spec.txt to
// bootstrap them from.
var ErrNoSpec = errors.New("no features and no app_spec.txt to create them from")

// Supervisor drives sessions against one project directory.
type Supervisor struct {
	projectDir string
	cfg        *config.Config

	st          *store.Store
	events      *eventlog.Log
	registry    *tools.Registry
	classifier  *risk.Classifier
	autonomy    *autonomy.Manager
	checkpoints *checkpoint.Manager
	memory      *memory.Manager
	features    *features.Registry
	channel     *human.Channel
	escalations *human.Engine
	budget      *budget.Tracker
	analyzer    *failure.Analyzer
	pipeline    *hooks.Pipeline
	runtime     runtime.Runtime
	driver      *browser.Driver

	sessionID atomic.Int64

	// mu guards the per-session monitor so RequestPause can reach the
	// session currently running.
	mu  sync.Mutex
	mon *monitor

	pauseRequested atomic.Bool
	pauseReason    atomic.Pointer[string]
}

// Open assembles a supervisor over the project directory. It takes the
// exclusive supervisor lock; a second live supervisor gets
// store.ErrSupervisorRunning.
func Open(projectDir string, cfg *config.Config, rt runtime.Runtime) (*Supervisor, error) {
	if err := logging.Initialize(projectDir); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	st, err := store.Open(projectDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.AcquireLock(); err != nil {
		st.Close()
		return nil, err
	}

	events, err := eventlog.Open(projectDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}

	classifier, err := risk.New(st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("risk classifier: %w", err)
	}
	am, err := autonomy.New(st, cfg.Autonomy)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("autonomy manager: %w", err)
	}
	channel, err := human.NewChannel(projectDir, st, cfg.Human)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("human channel: %w", err)
	}
	escalations, err := human.NewEngine(st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("escalation engine: %w", err)
	}

	cm := checkpoint.New(projectDir, st, cfg.Checkpoint, events)
	if err := cm.EnsureRepo(context.Background()); err != nil {
		logging.SupervisorError("checkpoint repo unavailable: %v", err)
	}

	s := &Supervisor{
		projectDir:  projectDir,
		cfg:         cfg,
		st:          st,
		events:      events,
		classifier:  classifier,
		autonomy:    am,
		checkpoints: cm,
		memory:      memory.New(st, cfg.Memory),
		features:    features.New(st),
		channel:     channel,
		escalations: escalations,
		budget:      budget.New(cfg.Budget),
		analyzer:    failure.New(st, events),
		runtime:     rt,
		driver:      browser.New(cfg.Browser),
	}

	gate := security.New(cfg.Security.ExtraAllowedCommands)
	s.registry = tools.NewDefault(tools.Deps{
		ProjectDir: projectDir,
		Store:      st,
		Features:   s.features,
		Memory:     s.memory,
		Browser:    s.driver,
		Gate:       gate,
		SessionID:  s.sessionID.Load,
	})
	s.pipeline = hooks.New(
		st, events,
		gate,
		classifier, am, cm, channel,
		registryExecutor{s.registry},
	)
	return s, nil
}

// Close releases the store, the event log, and the browser.
func (s *Supervisor) Close() error {
	if s.driver != nil {
		s.driver.Close()
	}
	var errs []error
	if s.events != nil {
		errs = append(errs, s.events.Close())
	}
	if s.st != nil {
		errs = append(errs, s.st.Close())
	}
	logging.CloseAll()
	return errors.Join(errs...)
}

// Store exposes the project store for read-only CLI views.
func (s *Supervisor) Store() *store.Store { return s.st }

// RequestPause asks the running session to stop at its next suspension
// point and the supervisor loop to exit with a paused state. Safe to call
// from a signal handler goroutine.
func (s *Supervisor) RequestPause(reason string) {
	s.pauseReason.Store(&reason)
	s.pauseRequested.Store(true)
	s.mu.Lock()
	mon := s.mon
	s.mu.Unlock()
	if mon != nil {
		mon.flag(types.SessionPaused, reason)
	}
	logging.Supervisor("pause requested: %s", reason)
}

// Run drives sessions until a terminal condition: all features passing,
// budget exceeded, a pause, or the session cap.
func (s *Supervisor) Run(ctx context.Context) (ExitCode, error) {
	if err := s.recoverCrashed(); err != nil {
		return ExitCrash, fmt.Errorf("crash recovery: %w", err)
	}
	if err := s.bootstrapFeatures(); err != nil {
		if errors.Is(err, ErrNoSpec) {
			return ExitConfig, err
		}
		return ExitCrash, fmt.Errorf("bootstrap features: %w", err)
	}

	sessions := 0
	for {
		total, passing, err := s.st.CountFeatures()
		if err != nil {
			return ExitCrash, fmt.Errorf("count features: %w", err)
		}
		if total > 0 && passing == total {
			logging.Supervisor("all %d features passing", total)
			return ExitOK, nil
		}

		res, err := s.runSession(ctx)
		if err != nil {
			return ExitCrash, fmt.Errorf("session %d: %w", res.id, err)
		}

		switch res.status {
		case types.SessionPaused:
			return ExitPaused, nil
		case types.SessionBudgetExceeded:
			return ExitBudget, nil
		}

		sessions++
		if s.cfg.Supervisor.MaxSessions > 0 && sessions >= s.cfg.Supervisor.MaxSessions {
			logging.Supervisor("session cap %d reached", s.cfg.Supervisor.MaxSessions)
			return ExitOK, nil
		}

		select {
		case <-ctx.Done():
			return ExitOK, nil
		case <-time.After(s.cfg.Cooldown()):
		}
	}
}

// recoverCrashed finds sessions still marked running from a previous
// process, writes a synthetic SESSION_END, marks them failed, and runs the
// failure analyzer over what the event log shows.
func (s *Supervisor) recoverCrashed() error {
	crashed, err := s.st.CrashedSessions()
	if err != nil {
		return err
	}
	for _, sess := range crashed {
		logging.Supervisor("recovering crashed session %d", sess.ID)
		s.emit(sess.ID, types.EventSessionEnd, map[string]any{
			"status": string(types.SessionFailed), "synthetic": true, "cause": "crash",
		})
		if err := s.st.FinishSession(sess.ID, types.SessionFailed, "crashed; recovered on restart"); err != nil {
			return err
		}
		if _, err := s.analyzer.Analyze(sess.ID); err != nil {
			logging.SupervisorError("failure analysis for crashed session %d: %v", sess.ID, err)
		}
	}
	return nil
}

// emit writes one event through the log and the store.
func (s *Supervisor) emit(sessionID int64, typ types.EventType, payload map[string]any) {
	ev := types.Event{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Payload:   payload,
	}
	if s.events != nil {
		if appended, err := s.events.Append(ev); err == nil {
			ev = appended
		} else {
			logging.SupervisorError("event append: %v", err)
		}
	}
	if err := s.st.RecordEvent(ev); err != nil {
		logging.SupervisorError("event record: %v", err)
	}
}

// registryExecutor adapts the tool registry to the pipeline's seam.
type registryExecutor struct {
	reg *tools.Registry
}

func (e registryExecutor) Execute(ctx context.Context, tool string, input map[string]any) (*hooks.Result, error) {
	out, err := e.reg.Execute(ctx, tool, input)
	if err != nil {
		return nil, err
	}
	return &hooks.Result{Output: out.Text, Files: out.Files}, nil
}
