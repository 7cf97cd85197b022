package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/gattsim/internal/engine"
	"github.com/srg/gattsim/internal/profile"
)

// profileCmd groups the profile commands
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Create and check device profiles",
}

var profileCheckCmd = &cobra.Command{
	Use:   "check <profile>",
	Short: "Validate a profile and show how each characteristic will behave",
	Long: `Loads the profile, builds the script engine for every characteristic without
advertising, and prints the outcome. Exits with an error when a characteristic
references a missing preset, a broken script or an unknown shared target.`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileCheck,
}

var profileNewCmd = &cobra.Command{
	Use:   "new <file>",
	Short: "Write a starter profile (.json, .yaml or .yml)",
	Long: `Writes a profile with a Battery service whose level is a static value.
Attach presets by adding "preset": "<id>" to characteristics.`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileNew,
}

var (
	profileName  string
	profileForce bool
)

func init() {
	profileNewCmd.Flags().StringVar(&profileName, "name", "Simulated Device", "Profile and advertised device name")
	profileNewCmd.Flags().BoolVar(&profileForce, "force", false, "Overwrite an existing file")

	profileCmd.AddCommand(profileCheckCmd, profileNewCmd)
}

func runProfileCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	prof, err := profile.Load(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	registry := engine.NewRegistry(a.presets,
		engine.WithLogger(a.logger),
		engine.WithInstructionLimit(a.cfg.ScriptInstructionLimit),
	)
	defer registry.DestroyStack()

	report, buildErr := registry.BuildStack(prof)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s), advertised as %q\n", prof.Name, prof.ID, prof.LocalName())
	printReport(out, report)

	if buildErr != nil {
		return fmt.Errorf("%d characteristic(s) have no behavior", len(report.Failed()))
	}
	printStatus(out, okColor, "✓", "Profile is ready to advertise")
	return nil
}

func runProfileNew(cmd *cobra.Command, args []string) error {
	path := args[0]
	format := profile.FormatFromPath(path)
	if !profileForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	cmd.SilenceUsage = true

	prof := profile.New(profileName)
	prof.Services = []profile.Service{{
		UUID:      "180f",
		Name:      "Battery Service",
		IsPrimary: true,
		Characteristics: []profile.Characteristic{{
			UUID:       "2a19",
			Name:       "Battery Level",
			Properties: profile.PropRead | profile.PropNotify,
			Value:      profile.Value{100},
		}},
	}}
	if err := prof.Save(path); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), okColor, "✓", "Wrote %s profile %s", format, path)
	return nil
}
