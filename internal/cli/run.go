package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harun/agentflow/internal/app"
	"github.com/harun/agentflow/internal/config"
)

var (
	runMessage      string
	runConversation string
	runUser         string
	runConditions   []string
)

// newApp builds the engine; tests replace it to inject a completer.
var newApp = func(cfg *config.Config) (*app.App, error) {
	return app.New(cfg, app.Options{})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Talk to the configured agents",
	Long: `Run turns against the configured agents. With --message a single turn
is answered and the command exits; otherwise lines from stdin are answered
until EOF. Type /reset to forget the conversation and /exit to quit.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "answer a single message and exit")
	runCmd.Flags().StringVar(&runConversation, "conversation", "", "conversation id (default is a new id)")
	runCmd.Flags().StringVar(&runUser, "user", "", "user id passed to tools")
	runCmd.Flags().StringSliceVar(&runConditions, "condition", nil, "active use case condition (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Start(ctx); err != nil {
		return err
	}

	conversationID := runConversation
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	out := cmd.OutOrStdout()

	if runMessage != "" {
		return answer(ctx, a, out, conversationID, runMessage)
	}

	fmt.Fprintf(out, "conversation %s\n", conversationID)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := a.Reset(ctx, conversationID); err != nil {
				return err
			}
			fmt.Fprintln(out, "conversation reset")
			continue
		}

		if err := answer(ctx, a, out, conversationID, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func answer(ctx context.Context, a *app.App, out io.Writer, conversationID, text string) error {
	reply, err := a.Handle(ctx, app.TurnRequest{
		ConversationID: conversationID,
		UserID:         runUser,
		Text:           text,
		Conditions:     runConditions,
	})
	if err != nil {
		return err
	}

	for _, msg := range reply.Messages {
		fmt.Fprintln(out, msg)
	}
	if reply.PendingAgent != "" {
		fmt.Fprintf(out, "(handed over to unknown agent %s)\n", reply.PendingAgent)
	}
	return nil
}
