package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/gattsim/internal/preset"
	"github.com/srg/gattsim/internal/script"
)

// presetCmd groups the preset management commands
var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage the Lua presets that back characteristics",
	Long: `Presets are Lua scripts stored as {id}_{name}.json in the presets directory.
A preset defines read(app_start_ms, subscription_ms) and/or
write(app_start_ms, subscription_ms, value); profiles reference presets by id.

Examples:
  gattsim preset list
  gattsim preset create heartRate --example heart_rate
  gattsim preset create parser --file parser.lua --description "Parses commands"
  gattsim preset test heartRate
  gattsim preset rename heartRate heart-rate`,
}

var presetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets",
	Args:  cobra.NoArgs,
	RunE:  runPresetList,
}

var presetShowCmd = &cobra.Command{
	Use:   "show <preset>",
	Short: "Show a preset and its code",
	Long:  "Shows a preset. <preset> is a name, a full id or a unique id prefix.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetShow,
}

var presetCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a preset from a file or a bundled example",
	Long: fmt.Sprintf(`Creates a preset. The code comes from --file, or from a bundled example
(--example, default "echo"). Names use letters, '-' and '_' only.

Bundled examples: %s`, strings.Join(preset.Examples(), ", ")),
	Args: cobra.ExactArgs(1),
	RunE: runPresetCreate,
}

var presetUpdateCmd = &cobra.Command{
	Use:   "update <preset>",
	Short: "Replace a preset's code or description",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetUpdate,
}

var presetRenameCmd = &cobra.Command{
	Use:   "rename <preset> <new-name>",
	Short: "Rename a preset, keeping its id",
	Args:  cobra.ExactArgs(2),
	RunE:  runPresetRename,
}

var presetDeleteCmd = &cobra.Command{
	Use:   "delete <preset>",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetDelete,
}

var presetExamplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "List the bundled example scripts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, name := range preset.Examples() {
			fmt.Fprintf(tw, "%s\t%s\n", name, preset.ExampleDescription(name))
		}
		return tw.Flush()
	},
}

var (
	presetFile        string
	presetExample     string
	presetDescription string
)

func init() {
	presetCreateCmd.Flags().StringVar(&presetFile, "file", "", "Read the Lua code from this file")
	presetCreateCmd.Flags().StringVar(&presetExample, "example", "", "Start from a bundled example")
	presetCreateCmd.Flags().StringVar(&presetDescription, "description", "", "Description shown in listings")
	presetCreateCmd.MarkFlagsMutuallyExclusive("file", "example")

	presetUpdateCmd.Flags().StringVar(&presetFile, "file", "", "Read the new Lua code from this file")
	presetUpdateCmd.Flags().StringVar(&presetDescription, "description", "", "New description")

	presetCmd.AddCommand(presetListCmd, presetShowCmd, presetCreateCmd, presetUpdateCmd,
		presetRenameCmd, presetDeleteCmd, presetExamplesCmd, presetTestCmd)
}

func runPresetList(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	list, err := a.presets.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintf(out, "No presets in %s\n", a.presets.Dir())
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID.String()[:8], p.Name, p.Description)
	}
	return tw.Flush()
}

func runPresetShow(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	p, err := a.presets.Resolve(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", p.ID)
	fmt.Fprintf(out, "Name:        %s\n", p.Name)
	fmt.Fprintf(out, "Description: %s\n", p.Description)
	fmt.Fprintln(out, dimColor.Sprint("--"))
	fmt.Fprintln(out, strings.TrimRight(p.Code, "\n"))
	return nil
}

// checkScript loads code in a throwaway context so broken scripts are caught
// when saved rather than when advertising.
func checkScript(name, code string) error {
	ctx, err := script.New(code, script.Options{Name: name, InstructionLimit: script.DefaultInstructionLimit})
	if err != nil {
		return err
	}
	defer ctx.Close()
	if !ctx.CanRead() && !ctx.CanWrite() {
		return fmt.Errorf("preset %s defines neither read nor write", name)
	}
	return nil
}

func readCode(file, example string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(data), nil
	}
	if example == "" {
		example = "echo"
	}
	return preset.Example(example)
}

func runPresetCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := preset.ValidateName(name); err != nil {
		return err
	}
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}

	code, err := readCode(presetFile, presetExample)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if err := checkScript(name, code); err != nil {
		return err
	}
	description := presetDescription
	if description == "" && presetFile == "" {
		description = preset.ExampleDescription(exampleOrDefault(presetExample))
	}

	p, err := a.presets.Create(name, code, description)
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), okColor, "✓", "Created preset %s (%s)", p.Name, p.ID)
	return nil
}

func exampleOrDefault(name string) string {
	if name == "" {
		return "echo"
	}
	return name
}

func runPresetUpdate(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	if presetFile == "" && !cmd.Flags().Changed("description") {
		return fmt.Errorf("nothing to update: pass --file and/or --description")
	}
	cmd.SilenceUsage = true

	p, err := a.presets.Resolve(args[0])
	if err != nil {
		return err
	}
	if presetFile != "" {
		code, err := readCode(presetFile, "")
		if err != nil {
			return err
		}
		if err := checkScript(p.Name, code); err != nil {
			return err
		}
		p.Code = code
	}
	if cmd.Flags().Changed("description") {
		p.Description = presetDescription
	}
	if err := a.presets.Save(p); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), okColor, "✓", "Updated preset %s", p.Name)
	return nil
}

func runPresetRename(cmd *cobra.Command, args []string) error {
	if err := preset.ValidateName(args[1]); err != nil {
		return err
	}
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	p, err := a.presets.Resolve(args[0])
	if err != nil {
		return err
	}
	old := p.Name
	renamed, err := a.presets.Rename(p.ID, args[1])
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), okColor, "✓", "Renamed %s to %s", old, renamed.Name)
	return nil
}

func runPresetDelete(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	p, err := a.presets.Resolve(args[0])
	if err != nil {
		return err
	}
	if err := a.presets.Delete(p.ID); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), okColor, "✓", "Deleted preset %s", p.Name)
	return nil
}
