package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/browser"
	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/config"
	"github.com/xkilldash9x/statepilot/internal/llmclient"
	"github.com/xkilldash9x/statepilot/internal/observability"
	"github.com/xkilldash9x/statepilot/internal/orchestrator"
	"github.com/xkilldash9x/statepilot/internal/registry"
	"github.com/xkilldash9x/statepilot/internal/store"
	"github.com/xkilldash9x/statepilot/internal/synthesis"
	"github.com/xkilldash9x/statepilot/internal/webagent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	shutdownTimeout = 10 * time.Second
	persistTimeout  = 30 * time.Second
)

// openBrowser launches Chrome and opens the working tab. Tests swap it for a
// mock browser.
var openBrowser = func(ctx context.Context, cfg config.BrowserConfig, clk clock.Clock, logger *zap.Logger) (schemas.Browser, func(), error) {
	m, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	page, err := m.NewPage(ctx, clk)
	if err != nil {
		shutdownManager(m, logger)
		return nil, nil, err
	}
	return page, func() {
		page.Close()
		shutdownManager(m, logger)
	}, nil
}

func shutdownManager(m *browser.Manager, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		logger.Warn("Browser shutdown failed.", zap.Error(err))
	}
}

type runFlags struct {
	repository string
	saveAs     string
	prompts    string
	params     string
	output     string
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a workflow against a live browser, synthesizing states where none match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runWorkflow(cmd.Context(), cfg, flags, cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.repository, "repository", "r", "", "state repository to load (a file path, or a key for the postgres and redis stores)")
	f.StringVar(&flags.saveAs, "save-as", "", "where to persist the final repository (defaults to --repository)")
	f.StringVarP(&flags.prompts, "prompts", "p", "", "JSON or YAML file of state prompt templates")
	f.StringVar(&flags.params, "params", "", "workflow parameters as inline JSON or a JSON/YAML file")
	f.StringVarP(&flags.output, "output", "o", "", "write the run result JSON to this file instead of stdout")
	f.Bool("no-llm", false, "replay only; never call the LLM")
	f.Bool("headless", false, "run Chrome without a window")
	f.String("start-url", "", "page to open before the first evaluation")
	_ = cmd.MarkFlagRequired("repository")

	// Flags layered over the config file and environment.
	_ = v.BindPFlag("browser.headless", f.Lookup("headless"))
	_ = v.BindPFlag("browser.start_url", f.Lookup("start-url"))
	return cmd
}

// runInputs are the three inputs a run needs, loaded concurrently.
type runInputs struct {
	repository []schemas.State
	prompts    []schemas.StatePrompt
	params     schemas.Parameters
}

func loadInputs(ctx context.Context, repo store.Repository, flags runFlags, logger *zap.Logger) (*runInputs, error) {
	in := &runInputs{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		states, err := repo.Load(gctx, flags.repository)
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("Repository not found; starting empty.", zap.String("repository", flags.repository))
			in.repository = []schemas.State{}
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading repository: %w", err)
		}
		in.repository = states
		return nil
	})
	g.Go(func() error {
		if flags.prompts == "" {
			return nil
		}
		prompts, err := store.LoadPrompts(flags.prompts)
		if err != nil {
			return fmt.Errorf("loading prompts: %w", err)
		}
		in.prompts = prompts
		return nil
	})
	g.Go(func() error {
		params, err := store.LoadParameters(flags.params)
		if err != nil {
			return fmt.Errorf("loading parameters: %w", err)
		}
		in.params = params
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func runWorkflow(ctx context.Context, cfg *config.Config, flags runFlags, out io.Writer, logger *zap.Logger) error {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	if cfg.Metrics.Enabled {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := observability.NewMetricsServer(cfg.Metrics.ListenAddr, metrics, logger).Run(metricsCtx); err != nil {
				logger.Error("Metrics server failed.", zap.Error(err))
			}
		}()
		defer func() {
			stopMetrics()
			<-done
		}()
	}

	repo, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := repo.Close(); cerr != nil {
			logger.Warn("Failed to close store.", zap.Error(cerr))
		}
	}()

	in, err := loadInputs(ctx, repo, flags, logger)
	if err != nil {
		return err
	}
	opts := cfg.RunOptions()
	if opts.SynthesisEnabled && len(in.prompts) == 0 {
		logger.Warn("Synthesis is enabled but no prompt templates were supplied.")
	}

	clk := clock.Real()
	page, closeBrowser, err := openBrowser(ctx, cfg.Browser, clk, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer closeBrowser()

	triggers, err := registry.NewDefaultTriggerRegistry(page, clk)
	if err != nil {
		return err
	}
	actions, err := registry.NewDefaultActionRegistry(page)
	if err != nil {
		return err
	}

	llm, err := llmclient.NewClient(ctx, cfg.Agent.LLM, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	defer func() { _ = llm.Close() }()

	orch, err := orchestrator.New(orchestrator.Deps{
		Triggers:    triggers,
		Actions:     actions,
		Synthesizer: synthesis.NewPipeline(llm, page, logger),
		Agent: webagent.New(llm, page, actions, clk, webagent.Config{
			MaxSteps:   cfg.Agent.SubAgent.MaxSteps,
			WaitPeriod: cfg.Agent.SubAgent.WaitPeriod,
		}, logger, metrics),
		Clock:   clk,
		Logger:  logger,
		Metrics: metrics,
	}, opts)
	if err != nil {
		return err
	}

	result, runErr := orch.Run(ctx, orchestrator.RunInput{
		Prompts:    in.prompts,
		Repository: in.repository,
		Parameters: in.params,
	})

	// Synthesized states are kept even when the run failed or was interrupted.
	target := flags.saveAs
	if target == "" {
		target = flags.repository
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := repo.Save(persistCtx, target, result.FinalStateRepository); err != nil {
		logger.Error("Failed to persist repository.", zap.String("repository", target), zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	if err := writeResult(result, flags.output, out); err != nil {
		return err
	}
	return runErr
}

func writeResult(result *schemas.RunResult, path string, out io.Writer) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result to %s: %w", path, err)
	}
	return nil
}
