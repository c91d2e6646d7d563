package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/iot-dashboard/internal/store"
	"procodus.dev/iot-dashboard/pkg/generator"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the database with synthetic data",
	Long: `Insert fake devices and a history of correlated sensor readings for
each of them. Writes are attributed to the system user.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().Int("devices", 10, "number of devices to create")
	seedCmd.Flags().Int("readings", 60, "reading rounds per device")
	seedCmd.Flags().Duration("interval", time.Minute, "time between reading rounds")
	seedCmd.Flags().Uint64("seed", 0, "random seed (0 picks one)")
	seedCmd.Flags().String("org", "", "organization to seed (defaults to auth.default_org)")

	_ = viper.BindPFlag("seed.devices", seedCmd.Flags().Lookup("devices"))
	_ = viper.BindPFlag("seed.readings", seedCmd.Flags().Lookup("readings"))
	_ = viper.BindPFlag("seed.interval", seedCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("seed.seed", seedCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("seed.org", seedCmd.Flags().Lookup("org"))
}

func runSeed(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	org := viper.GetString("seed.org")
	if org == "" {
		org = viper.GetString("auth.default_org")
	}
	count := viper.GetInt("seed.devices")
	rounds := viper.GetInt("seed.readings")
	interval := viper.GetDuration("seed.interval")
	if count <= 0 {
		return errors.New("devices must be positive")
	}

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	gen := generator.New(viper.GetUint64("seed.seed"))
	start := time.Now().UTC().Add(-time.Duration(rounds) * interval)

	var created, ingested int
	for _, fake := range gen.Devices(count) {
		d := &store.Device{
			DeviceID: fake.DeviceID,
			Name:     fake.Name,
			Type:     fake.Type,
			Location: fake.Location,
			Firmware: fake.Firmware,
		}
		if err := st.CreateDevice(ctx, nil, org, d); err != nil {
			if errors.Is(err, store.ErrConflict) {
				logger.Warn("skipping existing device", "device_id", d.DeviceID)
				continue
			}
			return fmt.Errorf("failed to create device %s: %w", d.DeviceID, err)
		}
		created++

		if rounds <= 0 {
			continue
		}
		series := gen.Series().Window(start, interval, rounds)
		readings := make([]store.Reading, len(series))
		for i, r := range series {
			readings[i] = store.Reading{
				DeviceID:  d.DeviceID,
				Type:      r.Type,
				Value:     r.Value,
				Unit:      r.Unit,
				Timestamp: r.Timestamp,
			}
		}
		n, err := st.IngestReadings(ctx, nil, org, readings)
		if err != nil {
			return fmt.Errorf("failed to ingest readings for %s: %w", d.DeviceID, err)
		}
		ingested += n
	}

	logger.Info("seed completed", "org", org, "devices", created, "readings", ingested)
	return nil
}
