package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/security"
	"arcadiaforge/internal/store"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellOutput      = 64 * 1024
)

// RunShellTool executes a shell command in the project root. The security
// gate has already vetted the command by the time execution reaches here.
func RunShellTool(projectDir string) *Tool {
	return &Tool{
		Name:        "run_shell",
		Description: "Execute a shell command in the project root and return its combined output",
		Schema: Schema{
			Required: []string{"command"},
			Properties: map[string]Property{
				"command":         {Type: "string", Description: "The command to run"},
				"timeout_seconds": {Type: "integer", Description: "Timeout in seconds (default 60)", Default: 60},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Output, error) {
			command := stringArg(args, "command")
			if command == "" {
				return nil, fmt.Errorf("command is required")
			}
			timeout := defaultShellTimeout
			if t := intArg(args, "timeout_seconds", 0); t > 0 {
				timeout = time.Duration(t) * time.Second
			}
			execCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(execCtx, "sh", "-c", command)
			cmd.Dir = projectDir
			var buf bytes.Buffer
			cmd.Stdout = &buf
			cmd.Stderr = &buf

			start := time.Now()
			err := cmd.Run()
			elapsed := time.Since(start)

			output := buf.String()
			if len(output) > maxShellOutput {
				output = output[:maxShellOutput] + "\n... [truncated]"
			}
			if execCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("command timed out after %s: %s", timeout, command)
			}
			if err != nil {
				return nil, fmt.Errorf("%v\n%s", err, output)
			}
			logging.Tools("ran %q in %v", command, elapsed)
			return &Output{Text: output}, nil
		},
	}
}

// ServerStartTool starts a long-running process (dev server, watcher) and
// tracks its pid in the store so a later session can find and stop it.
// The command goes through the same gate as run_shell; the pipeline only
// gates run_shell itself.
func ServerStartTool(projectDir string, st *store.Store, gate *security.Gate) *Tool {
	return &Tool{
		Name:        "server_start",
		Description: "Start a named long-running process, e.g. a dev server, and track its pid",
		Schema: Schema{
			Required: []string{"name", "command"},
			Properties: map[string]Property{
				"name":    {Type: "string", Description: "Handle to refer to this process later"},
				"command": {Type: "string", Description: "The command to start"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			name := stringArg(args, "name")
			command := stringArg(args, "command")
			if gate != nil {
				if d := gate.Check(command); !d.Allowed {
					return nil, fmt.Errorf("command blocked: %s", d.Reason)
				}
			}
			if existing, err := st.GetTrackedProcess(name); err == nil && existing.Status == "running" {
				if processAlive(existing.PID) {
					return nil, fmt.Errorf("process %q already running with pid %d", name, existing.PID)
				}
				_ = st.MarkProcessStopped(name)
			}

			// Own process group so stop can take down children too.
			cmd := exec.Command("sh", "-c", command)
			cmd.Dir = projectDir
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
			if err := cmd.Start(); err != nil {
				return nil, fmt.Errorf("start %q: %w", command, err)
			}
			pid := cmd.Process.Pid
			go func() { _ = cmd.Wait() }()

			if err := st.TrackProcess(name, pid, command); err != nil {
				return nil, fmt.Errorf("track process: %w", err)
			}
			logging.Tools("started %q as pid %d", name, pid)
			return &Output{Text: fmt.Sprintf("started %q with pid %d", name, pid)}, nil
		},
	}
}

// ServerStopTool stops a tracked process by name.
func ServerStopTool(st *store.Store) *Tool {
	return &Tool{
		Name:        "server_stop",
		Description: "Stop a process previously started with server_start",
		Schema: Schema{
			Required: []string{"name"},
			Properties: map[string]Property{
				"name": {Type: "string", Description: "The process handle"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			name := stringArg(args, "name")
			p, err := st.GetTrackedProcess(name)
			if err != nil {
				return nil, fmt.Errorf("no tracked process %q", name)
			}
			if p.Status == "running" && processAlive(p.PID) {
				// Negative pid signals the whole process group.
				if err := syscall.Kill(-p.PID, syscall.SIGTERM); err != nil {
					_ = syscall.Kill(p.PID, syscall.SIGTERM)
				}
			}
			if err := st.MarkProcessStopped(name); err != nil {
				return nil, err
			}
			return &Output{Text: fmt.Sprintf("stopped %q", name)}, nil
		},
	}
}

// ServerStatusTool reports tracked processes and whether they are alive.
func ServerStatusTool(st *store.Store) *Tool {
	return &Tool{
		Name:        "server_status",
		Description: "List tracked processes and whether each is still alive",
		Schema:      Schema{},
		Execute: func(_ context.Context, _ map[string]any) (*Output, error) {
			procs, err := st.RunningProcesses()
			if err != nil {
				return nil, err
			}
			if len(procs) == 0 {
				return &Output{Text: "no tracked processes"}, nil
			}
			var b bytes.Buffer
			for _, p := range procs {
				state := "alive"
				if !processAlive(p.PID) {
					state = "dead"
					_ = st.MarkProcessStopped(p.Name)
				}
				fmt.Fprintf(&b, "%s: pid %d (%s) %s\n", p.Name, p.PID, state, p.Command)
			}
			return &Output{Text: b.String()}, nil
		},
	}
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
