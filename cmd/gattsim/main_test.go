package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/gattsim/internal/preset"
	"github.com/srg/gattsim/internal/profile"
	"github.com/srg/gattsim/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs commands against a temporary config and presets directory.
type CommandTestSuite struct {
	suite.Suite
	dir        string
	configPath string
}

func (s *CommandTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.configPath = filepath.Join(s.dir, "config.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte("log_level: error\n"), 0o644))
}

// resetFlags restores every flag to its default; cobra keeps values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--config", s.configPath}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func (s *CommandTestSuite) store() *preset.Store {
	store, err := preset.NewStore(filepath.Join(s.dir, "presets"), nil)
	s.Require().NoError(err)
	return store
}

func (s *CommandTestSuite) TestPresetLifecycle() {
	out, err := s.ExecuteCommand("preset", "create", "counter", "--example", "counter")
	s.Require().NoError(err, out)
	s.Contains(out, "Created preset counter")

	out, err = s.ExecuteCommand("preset", "list")
	s.Require().NoError(err)
	s.Contains(out, "counter")
	s.Contains(out, "Counts reads")

	out, err = s.ExecuteCommand("preset", "show", "counter")
	s.Require().NoError(err)
	s.Contains(out, "function read")

	out, err = s.ExecuteCommand("preset", "rename", "counter", "ticks")
	s.Require().NoError(err, out)
	s.Contains(out, "Renamed counter to ticks")

	_, err = s.ExecuteCommand("preset", "show", "counter")
	s.ErrorIs(err, preset.ErrNotFound)

	out, err = s.ExecuteCommand("preset", "delete", "ticks")
	s.Require().NoError(err)
	s.Contains(out, "Deleted preset ticks")

	out, err = s.ExecuteCommand("preset", "list")
	s.Require().NoError(err)
	s.Contains(out, "No presets")
}

func (s *CommandTestSuite) TestPresetCreateValidation() {
	_, err := s.ExecuteCommand("preset", "create", "bad name")
	s.ErrorIs(err, preset.ErrInvalidName)

	_, err = s.ExecuteCommand("preset", "create", "x", "--example", "missing")
	s.ErrorContains(err, "unknown example")

	broken := filepath.Join(s.dir, "broken.lua")
	s.Require().NoError(os.WriteFile(broken, []byte("function read( end"), 0o644))
	_, err = s.ExecuteCommand("preset", "create", "broken", "--file", broken)
	var loadErr *script.LoadError
	s.ErrorAs(err, &loadErr)

	empty := filepath.Join(s.dir, "empty.lua")
	s.Require().NoError(os.WriteFile(empty, []byte("x = 1"), 0o644))
	_, err = s.ExecuteCommand("preset", "create", "empty", "--file", empty)
	s.ErrorContains(err, "neither read nor write")

	_, err = s.ExecuteCommand("preset", "create", "dup")
	s.Require().NoError(err)
	_, err = s.ExecuteCommand("preset", "create", "dup")
	s.ErrorIs(err, preset.ErrDuplicateName)
}

func (s *CommandTestSuite) TestPresetUpdate() {
	_, err := s.ExecuteCommand("preset", "create", "echo")
	s.Require().NoError(err)

	_, err = s.ExecuteCommand("preset", "update", "echo")
	s.ErrorContains(err, "nothing to update")

	file := filepath.Join(s.dir, "v2.lua")
	s.Require().NoError(os.WriteFile(file, []byte(`function read() return "v2" end`), 0o644))
	_, err = s.ExecuteCommand("preset", "update", "echo", "--file", file, "--description", "second")
	s.Require().NoError(err)

	p, err := s.store().Resolve("echo")
	s.Require().NoError(err)
	s.Equal("second", p.Description)
	s.Equal(`function read() return "v2" end`, p.Code)
}

func (s *CommandTestSuite) TestPresetTestRead() {
	_, err := s.ExecuteCommand("preset", "create", "counter", "--example", "counter")
	s.Require().NoError(err)

	out, err := s.ExecuteCommand("preset", "test", "counter", "--count", "2")
	s.Require().NoError(err, out)
	s.Contains(out, `{"count":1,"subscribed":false}`)
	s.Contains(out, `{"count":2,"subscribed":false}`)

	out, err = s.ExecuteCommand("preset", "test", "counter", "--subscribed")
	s.Require().NoError(err, out)
	s.Contains(out, `"subscribed":true`)
}

func (s *CommandTestSuite) TestPresetTestWrite() {
	_, err := s.ExecuteCommand("preset", "create", "echo", "--example", "echo")
	s.Require().NoError(err)

	out, err := s.ExecuteCommand("preset", "test", "echo", "--op", "write", "--input", "ping")
	s.Require().NoError(err, out)
	s.Contains(out, "ping")
	s.Contains(out, "log: received 4 bytes: 70696e67")

	out, err = s.ExecuteCommand("preset", "test", "echo", "--op", "write", "--input", "00ff", "--input-hex")
	s.Require().NoError(err, out)
	s.Contains(out, "00ff")

	_, err = s.ExecuteCommand("preset", "test", "echo", "--op", "notify")
	s.ErrorContains(err, "invalid --op")
}

func (s *CommandTestSuite) TestPresetTestTypeHints() {
	_, err := s.ExecuteCommand("preset", "create", "echo", "--example", "echo")
	s.Require().NoError(err)

	out, err := s.ExecuteCommand("preset", "test", "echo", "--op", "write",
		"--in-types", "uint16, string(4)", "--input", "513,hi",
		"--out-types", "uint16,string(4)")
	s.Require().NoError(err, out)
	s.Contains(out, `513, "hi"`)
	s.Contains(out, "log: received 6 bytes: 010268690000")

	out, err = s.ExecuteCommand("preset", "test", "echo", "--op", "write",
		"--in-types", "int8,buffer", "--input", "-1,0xbeef", "--out-types", "uint8,buffer")
	s.Require().NoError(err, out)
	s.Contains(out, "255, beef")

	_, err = s.ExecuteCommand("preset", "test", "echo", "--in-types", "uint8")
	s.ErrorContains(err, "only applies to --op write")

	_, err = s.ExecuteCommand("preset", "test", "echo", "--op", "write", "--in-types", "uint8,uint8", "--input", "1")
	s.ErrorContains(err, "declares 2")

	_, err = s.ExecuteCommand("preset", "test", "echo", "--op", "write", "--in-types", "uint8", "--input", "300")
	s.ErrorContains(err, "invalid typed input")

	_, err = s.ExecuteCommand("preset", "test", "echo", "--out-types", "uint64")
	s.ErrorContains(err, "invalid --out-types")

	out, err = s.ExecuteCommand("preset", "test", "echo", "--op", "write", "--input", "a", "--out-types", "uint32")
	s.Error(err)
	s.Contains(out, "decode 61")
}

func (s *CommandTestSuite) TestPresetTestReportsScriptErrors() {
	file := filepath.Join(s.dir, "boom.lua")
	s.Require().NoError(os.WriteFile(file, []byte(`function read() error("boom") end`), 0o644))
	_, err := s.ExecuteCommand("preset", "create", "boom", "--file", file)
	s.Require().NoError(err)

	out, err := s.ExecuteCommand("preset", "test", "boom")
	var runtimeErr *script.RuntimeError
	s.ErrorAs(err, &runtimeErr)
	s.Contains(out, "boom")
}

func (s *CommandTestSuite) TestProfileNewAndCheck() {
	path := filepath.Join(s.dir, "device.yaml")

	out, err := s.ExecuteCommand("profile", "new", path, "--name", "Bench")
	s.Require().NoError(err, out)

	_, err = s.ExecuteCommand("profile", "new", path)
	s.ErrorContains(err, "already exists")

	out, err = s.ExecuteCommand("profile", "check", path)
	s.Require().NoError(err, out)
	s.Contains(out, "Bench")
	s.Contains(out, "2a19")
	s.Contains(out, "static")
	s.Contains(out, "ready to advertise")
}

func (s *CommandTestSuite) TestProfileCheckReportsFailures() {
	_, err := s.ExecuteCommand("preset", "create", "echo")
	s.Require().NoError(err)
	p, err := s.store().Resolve("echo")
	s.Require().NoError(err)

	prof := profile.New("Broken")
	prof.Services = []profile.Service{{
		UUID:      "180d",
		IsPrimary: true,
		Characteristics: []profile.Characteristic{
			{UUID: "2a37", Properties: profile.PropRead, Preset: &p.ID},
			{UUID: "2a38", Properties: profile.PropRead, Shared: "2aff"},
		},
	}}
	path := filepath.Join(s.dir, "broken.json")
	s.Require().NoError(prof.Save(path))

	out, err := s.ExecuteCommand("profile", "check", path)
	s.ErrorContains(err, "1 characteristic(s) have no behavior")
	s.Contains(out, "failed")
	s.Contains(out, "echo")
}

func (s *CommandTestSuite) TestPresetExamples() {
	out, err := s.ExecuteCommand("preset", "examples")
	s.Require().NoError(err)
	for _, name := range preset.Examples() {
		s.Contains(out, name)
		s.Contains(out, preset.ExampleDescription(name))
	}
}

func (s *CommandTestSuite) TestAdvertiseRequiresProfile() {
	_, err := s.ExecuteCommand("advertise")
	s.ErrorContains(err, "profile required")
}

func (s *CommandTestSuite) TestInvalidLogLevel() {
	_, err := s.ExecuteCommand("preset", "list", "--log-level", "loud")
	s.ErrorContains(err, "invalid log level")
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", fmt.Errorf("%w: x", preset.ErrNotFound), "preset not found: x (see 'gattsim preset list')"},
		{"ambiguous", fmt.Errorf("%w: a", preset.ErrAmbiguous), "(use a longer id prefix or the full id)"},
		{"joined", errors.Join(errors.New("one"), errors.New("two")), "one; two"},
		{"load error", &script.LoadError{Name: "p", Message: "bad"}, "preset script does not load"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.want)
		})
	}
}

func TestTypeHintHelpers(t *testing.T) {
	types, err := parseTypeHints("float32,bool,buffer(2)")
	require.NoError(t, err)

	data, err := encodeTypedInput("1.5, true,0a0b", types)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xc0, 0x3f, 0x01, 0x0a, 0x0b}, data)

	text, err := formatTypedOutput(data, types)
	require.NoError(t, err)
	assert.Equal(t, "1.5, true, 0a0b", text)

	_, err = parseTypeHints("uint8,nope")
	assert.ErrorContains(t, err, "unknown type")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
