package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/observability"
	"github.com/xkilldash9x/statepilot/internal/orchestrator"
	"github.com/xkilldash9x/statepilot/internal/registry"
	"github.com/xkilldash9x/statepilot/internal/store"
)

// errInvalidRepository is returned when at least one invocation does not bind.
var errInvalidRepository = errors.New("repository failed validation")

func newValidateCmd() *cobra.Command {
	var repository, params string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Checks every check and action in a repository against the registered parameter sets",
		Long: `Binds every trigger and action invocation in the repository against the
built-in registries without launching a browser. Workflow parameters are
substituted first, exactly as a run would.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			repo, err := store.Open(ctx, cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = repo.Close() }()

			states, err := repo.Load(ctx, repository)
			if err != nil {
				return fmt.Errorf("loading repository: %w", err)
			}
			values, err := store.LoadParameters(params)
			if err != nil {
				return fmt.Errorf("loading parameters: %w", err)
			}

			details, err := validateStates(states, values)
			if err != nil {
				return err
			}
			logger.Debug("Repository validated.", zap.Int("states", len(states)), zap.Int("problems", len(details)))
			return reportValidation(cmd.OutOrStdout(), len(states), details)
		},
	}

	cmd.Flags().StringVarP(&repository, "repository", "r", "", "state repository to validate")
	cmd.Flags().StringVar(&params, "params", "", "workflow parameters as inline JSON or a JSON/YAML file")
	_ = cmd.MarkFlagRequired("repository")
	return cmd
}

// validateStates only binds parameters, so the registries never touch a page.
func validateStates(states []schemas.State, params schemas.Parameters) ([]*schemas.ErrorDetail, error) {
	triggers, err := registry.NewDefaultTriggerRegistry(nil, clock.Real())
	if err != nil {
		return nil, err
	}
	actions, err := registry.NewDefaultActionRegistry(nil)
	if err != nil {
		return nil, err
	}
	return orchestrator.ValidateRepository(states, params, triggers, actions), nil
}

func reportValidation(out io.Writer, stateCount int, details []*schemas.ErrorDetail) error {
	if len(details) == 0 {
		fmt.Fprintf(out, "OK: %d state(s) validated\n", stateCount)
		return nil
	}
	for _, d := range details {
		fmt.Fprintf(out, "[%s] %s: %s\n", d.Code, d.Message, d.Cause)
	}
	return fmt.Errorf("%w: %d problem(s)", errInvalidRepository, len(details))
}
