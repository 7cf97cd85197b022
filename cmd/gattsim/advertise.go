package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/gattsim/internal/peripheral"
	"github.com/srg/gattsim/internal/peripheral/goble"
	"github.com/srg/gattsim/internal/profile"
)

// advertiseCmd represents the advertise command
var advertiseCmd = &cobra.Command{
	Use:   "advertise [profile]",
	Short: "Advertise a profile as a BLE peripheral",
	Long: `Builds the script engines for every characteristic of the profile and
advertises its primary services until interrupted.

Examples:
  # Advertise a profile
  gattsim advertise heart_rate.json

  # Advertise the profile set in the config file for one minute
  gattsim advertise --duration 1m

Reads and writes from centrals are answered by the characteristic's preset.
Characteristics with notify or indicate call the preset's read function at
their notify interval while a central is subscribed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAdvertise,
}

var advertiseDuration time.Duration

func init() {
	advertiseCmd.Flags().DurationVar(&advertiseDuration, "duration", 0, "Stop advertising after this long (0 runs until Ctrl+C)")
}

func runAdvertise(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}

	path := a.cfg.Profile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("profile required: pass a file or set 'profile' in the config")
	}
	prof, err := profile.Load(path)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if advertiseDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, advertiseDuration)
		defer cancel()
	}

	logs, err := a.startScriptLogs(context.Background())
	if err != nil {
		return err
	}

	binding := goble.NewPeripheral(a.logger)
	sim, err := peripheral.NewSimulator(a.presets, binding, peripheral.Options{
		Logger:           a.logger,
		Sinks:            logs.Sink,
		NotifyInterval:   a.cfg.NotifyInterval,
		InstructionLimit: a.cfg.ScriptInstructionLimit,
		Sentinel:         a.cfg.Sentinel,
	})
	if err != nil {
		return err
	}
	binding.Attach(sim)
	sim.Start(context.Background())
	defer func() {
		sim.Close()
		recs := logs.Close()
		fmt.Fprintln(out, dimColor.Sprintf("%d script log lines", len(recs)))
	}()

	report, buildErr := binding.Start(ctx, prof)
	if report == nil {
		return buildErr
	}
	printReport(out, report)
	if buildErr != nil {
		printStatus(out, warnColor, "!", "some characteristics have no behavior")
	}

	printStatus(out, okColor, "●", "Advertising %q (%s), press Ctrl+C to stop", prof.LocalName(), prof.ID)
	if err := binding.Advertise(ctx, prof); err != nil {
		return err
	}
	printStatus(out, okColor, "■", "Stopped")
	return nil
}
