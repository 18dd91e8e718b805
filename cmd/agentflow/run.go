package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/fyrsmithlabs/agentflow/internal/console"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

type runFlags struct {
	requirements     string
	requirementsFile string
	root             string
	templates        string
	backendKind      string
	backendURL       string
	onFailure        string
	logFile          string
	serveHTTP        bool
	headless         bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow",
		Long: `Run a workflow. Each executable step gets a fresh agent and an isolated
context; its outputs wait for your verdict before the next step starts.

Interactive mode shows a terminal console for validation. Headless mode
serves the validation API instead (implies --http).

Examples:
  agentflow run workflows/feature.yaml --requirements "add SSO login"
  agentflow run workflows/feature.yaml --requirements-file req.md --headless
  agentflow run workflows/feature.yaml --requirements-file - --on-failure ask`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.requirements, "requirements", "r", "", "user requirements text")
	cmd.Flags().StringVar(&f.requirementsFile, "requirements-file", "", "read requirements from a file (- for stdin)")
	cmd.Flags().StringVar(&f.root, "root", ".", "directory agents discover resources under")
	cmd.Flags().StringVar(&f.templates, "templates", ".", "directory prompt templates are resolved against")
	cmd.Flags().StringVar(&f.backendKind, "backend", "", "task backend: http, llm or temporal (overrides config)")
	cmd.Flags().StringVar(&f.backendURL, "backend-url", "", "task backend URL (overrides config)")
	cmd.Flags().StringVar(&f.onFailure, "on-failure", "abort", "what to do when a stage fails: abort, continue or ask")
	cmd.Flags().StringVar(&f.logFile, "log-file", "agentflow.log", "log file used while the console is active")
	cmd.Flags().BoolVar(&f.serveHTTP, "http", false, "serve the validation API")
	cmd.Flags().BoolVar(&f.headless, "headless", false, "no console; validate over HTTP")
	cmd.MarkFlagsMutuallyExclusive("requirements", "requirements-file")
	return cmd
}

func runWorkflow(cmd *cobra.Command, path string, f runFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	def, err := workflow.Load(path)
	if err != nil {
		return err
	}
	requirements, err := readRequirements(cmd.InOrStdin(), f)
	if err != nil {
		return err
	}

	opts := appOptions{
		Root:         f.root,
		Templates:    f.templates,
		BackendKind:  f.backendKind,
		BackendURL:   f.backendURL,
		OnFailure:    f.onFailure,
		Capabilities: capabilities,
	}
	if !f.headless {
		logOut, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logOut.Close()
		opts.LogOutput = logOut
	}

	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if f.headless || f.serveHTTP {
		shutdown, err := a.serveHTTP()
		if err != nil {
			return err
		}
		defer shutdown()
		a.logger.Info("validation api listening",
			zap.String("addr", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)))
	}

	var sess *orchestrator.Session
	if f.headless {
		sess, err = a.orch.Run(ctx, def, requirements)
	} else {
		sess, err = runInteractive(ctx, a, def, requirements, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	printSummary(cmd.OutOrStdout(), sess)
	return err
}

// runInteractive drives the console and the orchestrator side by side. The
// session ends when the orchestrator finishes or the user quits, which stops
// it.
func runInteractive(ctx context.Context, a *app, def *workflow.Definition, requirements string, in io.Reader, out io.Writer) (*orchestrator.Session, error) {
	ch, unsubscribe := a.bus.Subscribe(256)
	defer unsubscribe()

	plan := a.planner.Plan(def, a.caps)
	var decisions console.DecisionResolver
	if a.decider != nil {
		decisions = a.decider
	}
	con := console.New(ctx, console.Options{
		Events:    ch,
		Plan:      plan,
		Resolver:  a.orch,
		Decisions: decisions,
		Input:     in,
		Output:    out,
	})
	a.onDecision = con.PromptDecision

	type result struct {
		sess *orchestrator.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := a.orch.Run(ctx, def, requirements)
		if sess == nil {
			// Never started; no terminal event will reach the console.
			con.Quit()
		}
		done <- result{sess, err}
	}()

	if err := con.Run(); err != nil {
		if errors.Is(err, console.ErrQuit) {
			a.logger.Info("user quit, stopping session")
		} else if !errors.Is(err, context.Canceled) {
			a.logger.Warn("console failed, stopping session", zap.Error(err))
		}
		if stopErr := a.orch.Stop(); stopErr != nil && !errors.Is(stopErr, orchestrator.ErrNoSession) {
			a.logger.Warn("stop failed", zap.Error(stopErr))
		}
	}
	if a.decider != nil {
		a.decider.Close()
	}

	r := <-done
	return r.sess, r.err
}

func readRequirements(stdin io.Reader, f runFlags) (string, error) {
	if f.requirementsFile == "" {
		return strings.TrimSpace(f.requirements), nil
	}
	var (
		data []byte
		err  error
	)
	if f.requirementsFile == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(f.requirementsFile)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read requirements: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printSummary(w io.Writer, sess *orchestrator.Session) {
	if sess == nil {
		return
	}
	fmt.Fprintf(w, "session %s: %s\n", sess.ID, sess.Status)
	for _, st := range sess.Stages {
		line := fmt.Sprintf("  %-12s %s", st.Status, st.ID)
		switch {
		case st.SkipReason != "":
			line += " (" + st.SkipReason + ")"
		case st.Error != "":
			line += " (" + st.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	if sess.Plan != nil {
		fmt.Fprintln(w, sess.Plan.Summary())
	}
}
