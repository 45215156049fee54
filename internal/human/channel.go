// Package human is the injection-point channel: the supervisor's way of
// asking a person for a decision without stopping the world. Requests are
// durable store rows; a human answers out of process (CLI or dashboard) and
// the waiting supervisor picks the response up by polling, woken early when
// the response directory changes. Learned intervention patterns can answer
// recurring questions automatically.
package human

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// Response is the outcome of one injection point.
type Response struct {
	InjectionID int64
	Answer      string
	RespondedBy string // "human", "auto_pattern", or "timeout_default"
	TimedOut    bool
	AutoApplied bool
}

// Channel creates injection points and waits for their answers.
type Channel struct {
	st         *store.Store
	cfg        config.HumanConfig
	projectDir string
	sessionID  int64
	learner    *Learner
}

// NewChannel builds the channel. The response directory is created eagerly
// so the out-of-process responder and the watcher agree on the path.
func NewChannel(projectDir string, st *store.Store, cfg config.HumanConfig) (*Channel, error) {
	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = 300
	}
	if cfg.PollMinMillis <= 0 {
		cfg.PollMinMillis = 50
	}
	if cfg.PollMaxMillis < cfg.PollMinMillis {
		cfg.PollMaxMillis = 2000
	}
	if err := os.MkdirAll(responseDir(projectDir), 0o755); err != nil {
		return nil, fmt.Errorf("create response dir: %w", err)
	}
	return &Channel{
		st:         st,
		cfg:        cfg,
		projectDir: projectDir,
		learner:    NewLearner(st),
	}, nil
}

// SetSession attributes subsequent injection points to a session.
func (c *Channel) SetSession(id int64) {
	c.sessionID = id
}

// Learner exposes the intervention learning layer.
func (c *Channel) Learner() *Learner {
	return c.learner
}

func responseDir(projectDir string) string {
	return filepath.Join(projectDir, ".arcadia", "responses")
}

// RequestInput opens an injection point and blocks until a human responds,
// a learned pattern answers it, or the timeout applies the default. A
// request with no default and no response waits until the context ends.
func (c *Channel) RequestInput(ctx context.Context, inj *types.InjectionPoint, signature string) (*Response, error) {
	if inj.TimeoutSeconds <= 0 {
		inj.TimeoutSeconds = c.cfg.DefaultTimeoutSeconds
	}
	inj.SessionID = c.sessionID

	// A confident learned pattern short-circuits the whole exchange.
	if signature != "" {
		if answer, ok := c.learner.AutoResponse(signature); ok {
			logging.Human("auto-applied learned response for %s: %s", signature, answer)
			return &Response{Answer: answer, RespondedBy: "auto_pattern", AutoApplied: true}, nil
		}
	}

	id, err := c.st.CreateInjection(inj)
	if err != nil {
		return nil, fmt.Errorf("create injection point: %w", err)
	}
	inj.ID = id
	logging.Human("injection point %d opened (%s, timeout %ds): %s",
		id, inj.Type, inj.TimeoutSeconds, inj.Context)

	resp, err := c.await(ctx, inj)
	if err != nil {
		return nil, err
	}

	// Non-default human answers become interventions the learner can
	// generalize from.
	if resp.RespondedBy == "human" && signature != "" && resp.Answer != inj.Recommendation {
		c.learner.RecordIntervention(&types.Intervention{
			SessionID:      c.sessionID,
			InjectionID:    id,
			Signature:      signature,
			Recommendation: inj.Recommendation,
			Response:       resp.Answer,
		})
	}
	return resp, nil
}

// await polls the store for the row to leave pending, backing off between
// polls and waking early when the response directory changes.
func (c *Channel) await(ctx context.Context, inj *types.InjectionPoint) (*Response, error) {
	deadline := time.Now().Add(time.Duration(inj.TimeoutSeconds) * time.Second)
	hasDefault := inj.DefaultOnTimeout != ""

	wake := c.watchResponses(ctx)

	interval := time.Duration(c.cfg.PollMinMillis) * time.Millisecond
	maxInterval := time.Duration(c.cfg.PollMaxMillis) * time.Millisecond

	for {
		current, err := c.st.GetInjection(inj.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != types.InjectionPending {
			return &Response{
				InjectionID: inj.ID,
				Answer:      current.Response,
				RespondedBy: current.RespondedBy,
				TimedOut:    current.Status == types.InjectionTimeout,
			}, nil
		}

		if hasDefault && time.Now().After(deadline) {
			// Another responder may land between the check and the
			// update; the store only times out a still-pending row.
			if err := c.st.TimeoutInjection(inj.ID); err == nil {
				logging.Human("injection point %d timed out, applying default %q", inj.ID, inj.DefaultOnTimeout)
				return &Response{
					InjectionID: inj.ID,
					Answer:      inj.DefaultOnTimeout,
					RespondedBy: "timeout_default",
					TimedOut:    true,
				}, nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			_ = c.st.CancelInjection(inj.ID)
			return nil, ctx.Err()
		case <-wake:
			interval = time.Duration(c.cfg.PollMinMillis) * time.Millisecond
		case <-time.After(interval):
			interval *= 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
}

// watchResponses returns a channel that fires when the response directory
// changes. Falls back to pure polling when the watcher cannot start.
func (c *Channel) watchResponses(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Human("response watcher unavailable, polling only: %v", err)
		return wake
	}
	if err := watcher.Add(responseDir(c.projectDir)); err != nil {
		logging.Human("response watcher unavailable, polling only: %v", err)
		watcher.Close()
		return wake
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake
}

// Respond records a human answer for a pending injection point and drops a
// marker file so a waiting supervisor polls immediately. Used by the CLI.
func Respond(projectDir string, st *store.Store, id int64, answer, respondedBy string) error {
	if respondedBy == "" {
		respondedBy = "human"
	}
	if err := st.RespondInjection(id, answer, respondedBy); err != nil {
		return err
	}
	marker := filepath.Join(responseDir(projectDir), fmt.Sprintf("%d", id))
	if err := os.WriteFile(marker, []byte(answer), 0o644); err != nil {
		logging.Human("response marker write failed: %v", err)
	}
	return nil
}

// Pending lists open injection points for status output.
func (c *Channel) Pending() ([]types.InjectionPoint, error) {
	return c.st.PendingInjections()
}
