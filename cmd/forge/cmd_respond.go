package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"arcadiaforge/internal/human"
	"arcadiaforge/internal/store"
)

var respondCmd = &cobra.Command{
	Use:   "respond <injection-id> <answer...>",
	Short: "Answer a pending question from the agent",
	Long: `Delivers an answer to a pending injection point. A supervisor blocked on
the question picks the answer up within its poll interval; otherwise the
answer is injected into the next session's prompt.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("injection id must be a number: %q", args[0])
		}
		answer := strings.Join(args[1:], " ")

		st, err := store.Open(projectDir)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := human.Respond(projectDir, st, id, answer, "human"); err != nil {
			return err
		}
		fmt.Printf("Answered injection %d: %s\n", id, answer)
		return nil
	},
}
