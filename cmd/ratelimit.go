package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"procodus.dev/iot-dashboard/internal/ratelimit"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect and manage rate limits",
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear one rate limit counter",
	Long: `Delete the counter for an identifier under a rule, for example

  iot-dashboard ratelimit reset --rule ingestion --identifier device:default:pump-1`,
	RunE: runRatelimitReset,
}

func init() {
	rootCmd.AddCommand(ratelimitCmd)
	ratelimitCmd.AddCommand(ratelimitResetCmd)

	ratelimitResetCmd.Flags().String("identifier", "", "counter identifier (ip:..., user:org:id or device:org:id)")
	ratelimitResetCmd.Flags().String("rule", "", "rule name")
	_ = ratelimitResetCmd.MarkFlagRequired("identifier")
	_ = ratelimitResetCmd.MarkFlagRequired("rule")
}

func runRatelimitReset(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	identifier, _ := cmd.Flags().GetString("identifier")
	rule, _ := cmd.Flags().GetString("rule")
	if _, ok := loadRules()[rule]; !ok {
		return fmt.Errorf("unknown rule %q", rule)
	}

	client, err := openRedis(ctx, logger)
	if err != nil {
		return err
	}
	if client == nil {
		return errors.New("redis address must be configured")
	}
	defer client.Close()

	limiter, err := ratelimit.New(ratelimit.Config{Client: client, Logger: logger, Enabled: true})
	if err != nil {
		return err
	}
	if err := limiter.Reset(ctx, identifier, rule); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}

	logger.Info("rate limit reset", "rule", rule, "identifier", identifier)
	return nil
}
