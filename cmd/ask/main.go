// Command ask sends one prompt to a model and streams the answer to the
// terminal, keeping reasoning out of the answer.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"rexpro/internal/chat"
	"rexpro/internal/config"
	"rexpro/internal/crypto"
	"rexpro/internal/llm"
	"rexpro/internal/logging"
	"rexpro/internal/reasoning"
	"rexpro/internal/settings"
	"rexpro/internal/tuning"

	"github.com/charmbracelet/glamour"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type askOptions struct {
	model        string
	provider     string
	system       string
	showThinking bool
	thinking     bool
	budget       int
	carryOver    bool
	render       bool
	save         bool
	verbose      bool
}

// deps are the pieces a run needs; tests swap the provider.
type deps struct {
	cfg      config.Config
	provider chat.ProviderFunc
}

func main() {
	cfg := config.Load()
	cmd := newRootCommand(deps{cfg: cfg, provider: providerFor})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(d deps) *cobra.Command {
	opts := askOptions{carryOver: d.cfg.CarryOver}

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a model a single question",
		Long: `ask streams one answer from the configured model. Text the model writes
inside <thinking> tags is kept out of the answer and shown only with
--show-thinking. The prompt is read from stdin when no argument is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lo := logging.DefaultOptions()
			lo.Level = "warn"
			if opts.verbose {
				lo.Level = "debug"
			}
			_, err := logging.Setup(lo)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				prompt = string(data)
			}
			return runAsk(cmd.Context(), d, opts, prompt, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.model, "model", "m", "", "model id (default from saved settings)")
	f.StringVar(&opts.provider, "provider", "", "gemini or openai (default from saved settings)")
	f.StringVarP(&opts.system, "system", "s", "", "system instruction")
	f.BoolVar(&opts.showThinking, "show-thinking", false, "print the model's reasoning to stderr")
	f.BoolVar(&opts.thinking, "think", false, "ask a thinking model to reason before answering")
	f.IntVar(&opts.budget, "budget", 0, "thinking budget in tokens (0 leaves it to the model)")
	f.BoolVar(&opts.carryOver, "carry-over", opts.carryOver, "recognise <thinking> tags split across stream fragments")
	f.BoolVar(&opts.render, "render", false, "render the final answer as markdown")
	f.BoolVar(&opts.save, "save", false, "record the exchange in the active chat of the data dir")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	return cmd
}

func providerFor(ctx context.Context, st settings.Settings) (llm.Provider, error) {
	baseURL := ""
	if strings.EqualFold(st.Provider, "openai") {
		baseURL = st.OpenAIBaseURL
	}
	return llm.NewProvider(ctx, st.Provider, st.APIKey(), baseURL)
}

// runAsk streams one answer. Without --save the exchange goes to a scratch
// chat store that is removed afterwards.
func runAsk(ctx context.Context, d deps, opts askOptions, prompt string, out, errOut io.Writer) error {
	if strings.TrimSpace(prompt) == "" {
		return chat.ErrEmptyPrompt
	}

	st, err := loadSettings(d.cfg)
	if err != nil {
		return err
	}
	if opts.model != "" {
		st.Model = opts.model
	}
	if opts.provider != "" {
		st.Provider = opts.provider
	}
	if opts.system != "" {
		st.SystemInstruction = opts.system
	}
	st.UseThinking = st.UseThinking || opts.thinking
	if opts.budget > 0 {
		st.UseThinkingBudget = true
		st.ThinkingBudget = opts.budget
	}

	dataDir := d.cfg.DataDir
	if !opts.save {
		dataDir, err = os.MkdirTemp("", "rexpro-ask-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dataDir)
	}
	store, err := chat.NewStore(dataDir)
	if err != nil {
		return err
	}
	responder := &chat.Responder{Store: store, Provider: d.provider, CarryOver: opts.carryOver}
	if llm.IsTunedModel(st.Model) {
		tuned, err := tuning.NewRegistry(d.cfg.DataDir, d.cfg.TuningDelay)
		if err != nil {
			return err
		}
		defer tuned.Close()
		responder.Tuned = tuned
	}

	chatID := store.Active()
	if chatID == "" {
		sess, err := store.Create()
		if err != nil {
			return err
		}
		chatID = sess.ID
	}

	var shownVisible, shownHidden int
	msg, err := responder.Send(ctx, chatID, chat.SendRequest{Prompt: prompt, Settings: st}, func(s reasoning.StreamState) {
		if opts.showThinking && len(s.Hidden) > shownHidden {
			fmt.Fprint(errOut, s.Hidden[shownHidden:])
			shownHidden = len(s.Hidden)
		}
		if !opts.render && len(s.Visible) > shownVisible {
			fmt.Fprint(out, s.Visible[shownVisible:])
			shownVisible = len(s.Visible)
		}
	})
	if err != nil {
		return err
	}
	if opts.showThinking && shownHidden > 0 {
		fmt.Fprintln(errOut)
	}

	if opts.render {
		fmt.Fprint(out, renderMarkdown(msg.Content))
	} else {
		fmt.Fprintln(out)
	}
	if msg.SchemaError != "" {
		fmt.Fprintf(errOut, "warning: answer does not match the response schema: %s\n", msg.SchemaError)
	}
	return nil
}

// loadSettings reads the server's saved settings over the environment.
func loadSettings(cfg config.Config) (settings.Settings, error) {
	sealer, err := crypto.NewSealer(crypto.MachineKey("rexpro"))
	if err != nil {
		return settings.Settings{}, err
	}
	store, err := settings.NewStore(cfg.DataDir, sealer, cfg.BaseSettings())
	if err != nil {
		return settings.Settings{}, err
	}
	return store.Get(), nil
}

func renderMarkdown(content string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		logrus.WithError(err).Debug("markdown renderer unavailable")
		return content + "\n"
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content + "\n"
	}
	return rendered
}
