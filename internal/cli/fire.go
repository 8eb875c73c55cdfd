package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nudgehq/nudge/internal/dispatch"
	"github.com/nudgehq/nudge/internal/executions"
)

var (
	fireTenant    string
	fireTrigger   string
	fireExecution string
	fireRetry     string
)

var fireCmd = &cobra.Command{
	Use:   "fire",
	Short: "Fire a trigger once by hand",
	Long: `Fire a trigger through the execution ledger and the dispatch path,
exactly as the scheduler would, and print the dispatch result.

With --execution the firing resumes an existing ledger record instead of
opening a new one. With --retry a FAILED execution is fired again under a
new record carrying an advanced retry count; --trigger is not needed then.

Examples:
  nudge fire --tenant acme --trigger 5f0c...
  nudge fire --tenant acme --retry 9d21...`,
	RunE: runFire,
}

func init() {
	fireCmd.Flags().StringVar(&fireTenant, "tenant", "", "Tenant that owns the trigger")
	fireCmd.Flags().StringVar(&fireTrigger, "trigger", "", "Trigger id")
	fireCmd.Flags().StringVar(&fireExecution, "execution", "", "Existing execution id to resume")
	fireCmd.Flags().StringVar(&fireRetry, "retry", "", "Id of a FAILED execution to fire again")
	_ = fireCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(fireCmd)
}

func runFire(cmd *cobra.Command, args []string) error {
	switch {
	case fireTrigger == "" && fireRetry == "":
		return errors.New("one of --trigger or --retry is required")
	case fireTrigger != "" && fireRetry != "":
		return errors.New("--trigger and --retry cannot be combined")
	case fireRetry != "" && fireExecution != "":
		return errors.New("--execution and --retry cannot be combined")
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	var res dispatch.Result
	if fireRetry != "" {
		res = a.coordinator.Retry(ctx, fireTenant, fireRetry)
	} else {
		res = a.coordinator.Dispatch(ctx, fireTenant, fireTrigger, fireExecution)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	if res.Status == executions.StatusFailed {
		return fmt.Errorf("firing failed: %s", res.Message)
	}
	return nil
}
