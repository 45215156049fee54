package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/runtime"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the session loop until done, paused, or out of budget",
	Long: `Starts the supervisor against the project directory. The project needs an
app_spec.txt on the first run; features are bootstrapped from it. Ctrl-C
pauses cleanly (exit code 10); starting again resumes the paused session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(projectDir)
		if err != nil {
			exitCode = int(supervisor.ExitConfig)
			return err
		}

		rt, err := runtime.NewGemini(cmd.Context(), cfg.LLM)
		if err != nil {
			exitCode = int(supervisor.ExitConfig)
			return fmt.Errorf("llm runtime: %w (set ARCADIA_API_KEY or GEMINI_API_KEY)", err)
		}

		sup, err := supervisor.Open(projectDir, cfg, rt)
		if err != nil {
			if errors.Is(err, store.ErrSupervisorRunning) {
				exitCode = int(supervisor.ExitConfig)
			}
			return err
		}
		defer sup.Close()

		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()
		signals := make(chan os.Signal, 2)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(signals)
		go func() {
			sig, ok := <-signals
			if !ok {
				return
			}
			logger.Info("signal received, pausing", zap.String("signal", sig.String()))
			sup.RequestPause("signal: " + sig.String())
			// A second signal aborts without the clean pause.
			<-signals
			stop()
		}()

		code, err := sup.Run(ctx)
		exitCode = int(code)
		if err != nil {
			return err
		}
		logger.Info("supervisor finished", zap.Int("exit_code", int(code)))
		return nil
	},
}
