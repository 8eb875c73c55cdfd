package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	purgeTenant    string
	purgeOlderThan string
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old execution ledger records",
	Long: `Delete terminal execution records of a tenant whose scheduled time is
older than the given age. Pending and running records are never purged.

Ages accept Go durations plus day and week suffixes (e.g. 72h, 30d, 2w).
Without --older-than, executions.purge_after from the config is used.

Example:
  nudge purge --tenant acme --older-than 30d`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().StringVar(&purgeTenant, "tenant", "", "Tenant whose records are purged")
	purgeCmd.Flags().StringVar(&purgeOlderThan, "older-than", "", "Minimum age of purged records")
	_ = purgeCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	age := cfg.Executions.PurgeAfter
	if purgeOlderThan != "" {
		parsed, err := parseAge(purgeOlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than: %w", err)
		}
		age = parsed
	}
	if age <= 0 {
		return fmt.Errorf("purge age must be positive")
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	cutoff := time.Now().Add(-age)
	n, err := a.ledger.Purge(cmd.Context(), purgeTenant, cutoff)
	if err != nil {
		return fmt.Errorf("purging executions: %w", err)
	}

	fmt.Printf("Deleted %d execution records older than %s.\n", n, cutoff.Format("2006-01-02 15:04:05"))
	return nil
}

// parseAge accepts a Go duration or a whole number of days (d) or weeks (w).
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number: %s", s[:len(s)-1])
	}
	return time.Duration(n) * unit, nil
}
