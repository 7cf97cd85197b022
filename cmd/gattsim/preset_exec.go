package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/srg/gattsim/internal/codec"
	"github.com/srg/gattsim/internal/engine"
	"github.com/srg/gattsim/internal/profile"
)

// testCharacteristic is the characteristic a preset is mounted on for testing.
const testCharacteristic = "ffe1"

var presetTestCmd = &cobra.Command{
	Use:   "test <preset>",
	Short: "Run a preset's read or write function without a radio",
	Long: `Mounts the preset on a scratch characteristic and calls it the way a central
would, then prints the result and whatever the script logged.

Examples:
  # Call read() once
  gattsim preset test heartRate

  # Call read() five times, 200ms apart, as if a central had subscribed
  gattsim preset test heartRate --count 5 --interval 200ms --subscribed

  # Call write() with text or hex input
  gattsim preset test echo --op write --input ping
  gattsim preset test echo --op write --input 0102ff --input-hex --hex

  # Encode the input and decode the result with type hints
  gattsim preset test parser --op write --in-types "uint16,string(8)" --input "513,hello"
  gattsim preset test heartRate --out-types "uint8,uint8"`,
	Args: cobra.ExactArgs(1),
	RunE: runPresetTest,
}

var (
	presetTestOp         string
	presetTestInput      string
	presetTestInputHex   bool
	presetTestHex        bool
	presetTestCount      int
	presetTestInterval   time.Duration
	presetTestSubscribed bool
	presetTestInTypes    string
	presetTestOutTypes   string
)

func init() {
	presetTestCmd.Flags().StringVar(&presetTestOp, "op", "read", "Function to call: read or write")
	presetTestCmd.Flags().StringVar(&presetTestInput, "input", "", "Value passed to write()")
	presetTestCmd.Flags().BoolVar(&presetTestInputHex, "input-hex", false, "Decode --input as hex")
	presetTestCmd.Flags().BoolVar(&presetTestHex, "hex", false, "Print results as hex")
	presetTestCmd.Flags().IntVar(&presetTestCount, "count", 1, "Number of calls")
	presetTestCmd.Flags().DurationVar(&presetTestInterval, "interval", 0, "Delay between calls")
	presetTestCmd.Flags().BoolVar(&presetTestSubscribed, "subscribed", false, "Pass a subscription time as if a central had subscribed")
	presetTestCmd.Flags().StringVar(&presetTestInTypes, "in-types", "", `Type hints for --input values, e.g. "uint16,string(8)"`)
	presetTestCmd.Flags().StringVar(&presetTestOutTypes, "out-types", "", `Type hints to decode results with, e.g. "uint8,float32"`)
	presetTestCmd.MarkFlagsMutuallyExclusive("in-types", "input-hex")
	presetTestCmd.MarkFlagsMutuallyExclusive("out-types", "hex")
}

func runPresetTest(cmd *cobra.Command, args []string) error {
	action, err := engine.ParseAction(presetTestOp)
	if err != nil || (action != engine.ActionRead && action != engine.ActionWrite) {
		return fmt.Errorf("invalid --op %q (must be read or write)", presetTestOp)
	}
	if presetTestCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	var inTypes, outTypes []codec.Type
	if presetTestInTypes != "" {
		if action != engine.ActionWrite {
			return fmt.Errorf("--in-types only applies to --op write")
		}
		if inTypes, err = parseTypeHints(presetTestInTypes); err != nil {
			return fmt.Errorf("invalid --in-types: %w", err)
		}
	}
	if presetTestOutTypes != "" {
		if outTypes, err = parseTypeHints(presetTestOutTypes); err != nil {
			return fmt.Errorf("invalid --out-types: %w", err)
		}
	}

	var input []byte
	if action == engine.ActionWrite {
		input = []byte(presetTestInput)
		if inTypes != nil {
			if input, err = encodeTypedInput(presetTestInput, inTypes); err != nil {
				return fmt.Errorf("invalid typed input: %w", err)
			}
		} else if presetTestInputHex {
			if input, err = hex.DecodeString(strings.ReplaceAll(presetTestInput, " ", "")); err != nil {
				return fmt.Errorf("invalid hex input: %w", err)
			}
		}
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

	logs, err := a.startScriptLogs(context.Background())
	if err != nil {
		return err
	}

	registry := engine.NewRegistry(a.presets,
		engine.WithLogger(a.logger),
		engine.WithSinkFactory(logs.Sink),
		engine.WithInstructionLimit(a.cfg.ScriptInstructionLimit),
		engine.WithSentinel(a.cfg.Sentinel),
	)
	defer registry.DestroyStack()

	prof := profile.New("preset-test")
	prof.Services = []profile.Service{{
		UUID:      "ffe0",
		IsPrimary: true,
		Characteristics: []profile.Characteristic{{
			UUID:       testCharacteristic,
			Name:       p.Name,
			Properties: profile.PropRead | profile.PropWrite | profile.PropNotify,
			Preset:     &p.ID,
		}},
	}}
	if _, err := registry.BuildStack(prof); err != nil {
		logs.Close()
		return err
	}
	if presetTestSubscribed {
		if h, ok := registry.Handle(testCharacteristic); ok {
			h.MarkSubscribed(time.Now())
		}
	}

	out := cmd.OutOrStdout()
	var execErr error
	for i := 0; i < presetTestCount; i++ {
		if i > 0 && presetTestInterval > 0 {
			time.Sleep(presetTestInterval)
		}
		data, err := registry.Exec(testCharacteristic, action, input)
		if err != nil {
			printStatus(out, failColor, "✗", "%s: %v", action, err)
			execErr = err
			continue
		}
		if outTypes == nil {
			printResult(out, data, presetTestHex)
			continue
		}
		text, err := formatTypedOutput(data, outTypes)
		if err != nil {
			printStatus(out, failColor, "✗", "decode %s: %v", hex.EncodeToString(data), err)
			execErr = err
			continue
		}
		fmt.Fprintln(out, text)
	}

	for _, rec := range logs.Close() {
		fmt.Fprintln(out, dimColor.Sprint("log: ")+rec.Message)
	}
	return execErr
}

func printResult(w io.Writer, data []byte, asHex bool) {
	switch {
	case len(data) == 0:
		fmt.Fprintln(w, dimColor.Sprint("(empty)"))
	case asHex || !utf8.Valid(data):
		fmt.Fprintln(w, hex.EncodeToString(data))
	default:
		fmt.Fprintln(w, string(data))
	}
}
