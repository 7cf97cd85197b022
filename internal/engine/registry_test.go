package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srg/gattsim/internal/logsink"
	"github.com/srg/gattsim/internal/preset"
	"github.com/srg/gattsim/internal/profile"
	"github.com/srg/gattsim/internal/script"
	"github.com/srg/gattsim/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// memoryLoader serves presets from a map.
type memoryLoader map[uuid.UUID]*preset.Preset

func (m memoryLoader) Load(id uuid.UUID) (*preset.Preset, error) {
	p, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", preset.ErrNotFound, id)
	}
	return p, nil
}

const sharedScript = `
local last = "unset"
function write(a, s, v)
  last = v
  return v
end
function read(a, s)
  return last
end
`

type RegistryTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	loader   memoryLoader
	registry *Registry
	now      time.Time
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.loader = memoryLoader{}
	suite.now = time.UnixMilli(1_700_000_000_000)
	suite.registry = NewRegistry(suite.loader,
		WithLogger(suite.helper.Logger),
		WithClock(func() time.Time { return suite.now }),
	)
}

func (suite *RegistryTestSuite) TearDownTest() {
	suite.registry.DestroyStack()
}

func (suite *RegistryTestSuite) addPreset(code string) *uuid.UUID {
	id := uuid.New()
	suite.loader[id] = &preset.Preset{ID: id, Name: "p" + id.String()[:4], Code: code}
	return &id
}

func (suite *RegistryTestSuite) profileOf(chars ...profile.Characteristic) *profile.Profile {
	p := profile.New("test")
	p.Services = []profile.Service{{UUID: "180d", IsPrimary: true, Characteristics: chars}}
	return p
}

func (suite *RegistryTestSuite) build(chars ...profile.Characteristic) *BuildReport {
	report, err := suite.registry.BuildStack(suite.profileOf(chars...))
	suite.Require().NoError(err)
	return report
}

func scripted(id string, preset *uuid.UUID) profile.Characteristic {
	return profile.Characteristic{UUID: id, Properties: profile.PropRead | profile.PropWrite | profile.PropNotify, Preset: preset}
}

func sharedWith(id, target string) profile.Characteristic {
	return profile.Characteristic{UUID: id, Properties: profile.PropRead | profile.PropWrite, Shared: target}
}

func (suite *RegistryTestSuite) TestScenarios() {
	tests := []struct {
		name   string
		code   string
		action Action
		data   []byte
		want   []byte
	}{
		{"basic read", `function read(a, s) return "hello" end`, ActionRead, nil, []byte("hello")},
		{"structured return", `function read(a, s) return {v = 42} end`, ActionRead, nil, []byte(`{"v":42}`)},
		{"write echo", `function write(a, s, v) return v end`, ActionWrite, []byte("ping"), []byte("ping")},
		{"exception safety", `function read(a, s) error("boom") end`, ActionRead, nil, []byte(DefaultSentinel)},
		{"nil result", `function read(a, s) return nil end`, ActionRead, nil, []byte{}},
		{"binary write", `function write(a, s, v) return tohex(v) end`, ActionWrite, []byte{0x00, 0xff}, []byte("00ff")},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.build(scripted("2a37", suite.addPreset(tt.code)))
			got := suite.registry.Route("2a37", tt.action, tt.data)
			suite.NotNil(got)
			suite.Equal(tt.want, got)
		})
	}
}

func (suite *RegistryTestSuite) TestRoutingMissReturnsSentinelForEveryAction() {
	suite.build(scripted("2a37", suite.addPreset(`function read() return "x" end`)))

	for _, action := range []Action{ActionRead, ActionWrite, ActionWriteWithoutResponse, ActionNotify, ActionIndicate} {
		got := suite.registry.Route("ffff", action, []byte("data"))
		suite.Equal([]byte(DefaultSentinel), got, action.String())

		_, err := suite.registry.Exec("ffff", action, []byte("data"))
		suite.ErrorIs(err, ErrNoEngine)
	}
}

func (suite *RegistryTestSuite) TestUnsupportedActionsReturnSentinel() {
	suite.build(scripted("2a37", suite.addPreset(sharedScript)))

	for _, action := range []Action{ActionWriteWithoutResponse, ActionNotify, ActionIndicate} {
		suite.Equal([]byte(DefaultSentinel), suite.registry.Route("2a37", action, []byte("x")))
		_, err := suite.registry.Exec("2a37", action, []byte("x"))
		suite.ErrorIs(err, ErrUnsupportedAction)
	}
}

func (suite *RegistryTestSuite) TestWriteRequiresData() {
	suite.build(scripted("2a37", suite.addPreset(`function write(a, s, v) return "len=" .. #v end`)))

	_, err := suite.registry.Exec("2a37", ActionWrite, nil)
	suite.ErrorIs(err, ErrMissingData)
	suite.Equal([]byte(DefaultSentinel), suite.registry.Route("2a37", ActionWrite, nil))

	suite.Equal([]byte("len=0"), suite.registry.Route("2a37", ActionWrite, []byte{}))
}

func (suite *RegistryTestSuite) TestCapabilityGating() {
	suite.build(scripted("2a37", suite.addPreset(`
reads = 0
function write(a, s, v) return v end
`)))

	h, ok := suite.registry.Handle("2a37")
	suite.Require().True(ok)
	suite.False(h.CanRead())
	suite.True(h.CanWrite())

	suite.Equal([]byte(DefaultSentinel), suite.registry.Route("2a37", ActionRead, nil))
	_, err := suite.registry.Exec("2a37", ActionRead, nil)
	suite.ErrorIs(err, script.ErrCapabilityMismatch)
}

func (suite *RegistryTestSuite) TestSharedContextIdentity() {
	report := suite.build(
		scripted("2a37", suite.addPreset(sharedScript)),
		sharedWith("2a38", "2a37"),
	)

	a, ok := suite.registry.Handle("2a37")
	suite.Require().True(ok)
	b, ok := suite.registry.Handle("2a38")
	suite.Require().True(ok)
	suite.Same(a, b)

	suite.Equal([]byte("from-b"), suite.registry.Route("2a38", ActionWrite, []byte("from-b")))
	suite.Equal([]byte("from-b"), suite.registry.Route("2a37", ActionRead, nil))

	e, _ := report.Get("2a38")
	suite.Equal(OutcomeShared, e.Outcome)
	suite.Equal("2a37", e.SharedWith)
}

func (suite *RegistryTestSuite) TestSharedFirstSubscriptionIsCommon() {
	suite.build(
		scripted("2a37", suite.addPreset(`function read(a, s) return s end`)),
		sharedWith("2a38", "2a37"),
	)

	b, _ := suite.registry.Handle("2a38")
	first := suite.now.Add(5 * time.Second)
	suite.True(b.MarkSubscribed(first))
	suite.False(b.MarkSubscribed(first.Add(time.Second)))

	a, _ := suite.registry.Handle("2a37")
	suite.Equal(first, a.FirstSubscription())
	suite.Equal([]byte("1700000005000"), suite.registry.Route("2a37", ActionRead, nil))
}

func (suite *RegistryTestSuite) TestOrderingIndependentBuild() {
	suite.build(
		sharedWith("2a39", "2a38"),
		sharedWith("2a38", "2a37"),
		scripted("2a37", suite.addPreset(sharedScript)),
	)

	suite.Equal([]string{"2a37", "2a38", "2a39"}, suite.registry.Characteristics())
	suite.registry.Route("2a39", ActionWrite, []byte("chain"))
	suite.Equal([]byte("chain"), suite.registry.Route("2a37", ActionRead, nil))
}

func (suite *RegistryTestSuite) TestMissingSharedTargetSkipsOnlyThatCharacteristic() {
	report, err := suite.registry.BuildStack(suite.profileOf(
		sharedWith("2a38", "2aff"),
		scripted("2a37", suite.addPreset(`function read() return "ok" end`)),
	))

	var ordering *BuildOrderingError
	suite.Require().ErrorAs(err, &ordering)
	suite.Equal("2a38", ordering.Characteristic)
	suite.Equal("2aff", ordering.Shared)

	suite.Equal([]byte("ok"), suite.registry.Route("2a37", ActionRead, nil))
	suite.Equal([]byte(DefaultSentinel), suite.registry.Route("2a38", ActionRead, nil))

	failed := report.Failed()
	suite.Require().Len(failed, 1)
	suite.Equal("2a38", failed[0].Characteristic)
}

func (suite *RegistryTestSuite) TestPresetLoadFailure() {
	missing := uuid.New()
	_, err := suite.registry.BuildStack(suite.profileOf(
		scripted("2a37", &missing),
		scripted("2a38", suite.addPreset(`function read() return "ok" end`)),
	))

	var loadErr *PresetLoadError
	suite.Require().ErrorAs(err, &loadErr)
	suite.Equal(missing, loadErr.Preset)
	suite.ErrorIs(err, preset.ErrNotFound)

	_, ok := suite.registry.Handle("2a37")
	suite.False(ok)
	suite.Equal([]byte("ok"), suite.registry.Route("2a38", ActionRead, nil))
}

func (suite *RegistryTestSuite) TestScriptLoadFailure() {
	report, err := suite.registry.BuildStack(suite.profileOf(
		scripted("2a37", suite.addPreset(`function read( return end`)),
		sharedWith("2a38", "2a37"),
	))

	var loadErr *script.LoadError
	suite.Require().ErrorAs(err, &loadErr)
	var ordering *BuildOrderingError
	suite.ErrorAs(err, &ordering)

	suite.Len(report.Failed(), 2)
	suite.Empty(suite.registry.Characteristics())
}

func (suite *RegistryTestSuite) TestStaticAndUnbackedCharacteristics() {
	report := suite.build(
		profile.Characteristic{UUID: "2a19", Properties: profile.PropRead, Value: profile.Value{87}},
		profile.Characteristic{UUID: "2a29", Properties: profile.PropRead},
	)

	suite.Equal([]byte{87}, suite.registry.Route("2a19", ActionRead, nil))
	suite.Equal([]byte(DefaultSentinel), suite.registry.Route("2a19", ActionWrite, []byte{1}))
	suite.Equal([]byte(DefaultSentinel), suite.registry.Route("2a29", ActionRead, nil))

	static, _ := report.Get("2a19")
	suite.Equal(OutcomeStatic, static.Outcome)
	none, _ := report.Get("2a29")
	suite.Equal(OutcomeNone, none.Outcome)

	c, ok := suite.registry.Characteristic("2A29")
	suite.True(ok)
	suite.Equal(profile.PropRead, c.Properties)
}

func (suite *RegistryTestSuite) TestReportKeepsDeclarationOrder() {
	report := suite.build(
		sharedWith("2a39", "2a37"),
		profile.Characteristic{UUID: "2a19", Value: profile.Value{1}},
		scripted("2a37", suite.addPreset(sharedScript)),
	)

	var ids []string
	for _, e := range report.Entries() {
		ids = append(ids, e.Characteristic)
	}
	suite.Equal([]string{"2a39", "2a19", "2a37"}, ids)
	suite.Contains(report.String(), "1 script, 1 shared, 1 static")
}

func (suite *RegistryTestSuite) TestDestroyIsIdempotent() {
	var stops atomic.Int32
	suite.registry.OnTeardown(func() { stops.Add(1) })

	suite.registry.DestroyStack()
	suite.registry.DestroyStack()
	suite.Equal(int32(0), stops.Load())

	suite.build(
		scripted("2a37", suite.addPreset(sharedScript)),
		sharedWith("2a38", "2a37"),
	)
	h, _ := suite.registry.Handle("2a37")

	suite.registry.DestroyStack()
	suite.registry.DestroyStack()
	suite.Equal(int32(1), stops.Load())
	suite.Empty(suite.registry.Characteristics())

	_, err := h.Read()
	suite.ErrorIs(err, script.ErrClosed)
	suite.Equal([]byte(DefaultSentinel), suite.registry.Route("2a37", ActionRead, nil))
}

func (suite *RegistryTestSuite) TestBuildStackRejectsNilProfile() {
	suite.build(scripted("2a37", suite.addPreset(sharedScript)))

	report, err := suite.registry.BuildStack(nil)
	suite.Nil(report)
	suite.ErrorIs(err, ErrNoProfile)
	suite.NotEqual([]byte(DefaultSentinel), suite.registry.Route("2a37", ActionRead, nil))
}

func (suite *RegistryTestSuite) TestRebuildTearsDownPreviousStack() {
	var stops atomic.Int32
	suite.registry.OnTeardown(func() { stops.Add(1) })

	suite.build(scripted("2a37", suite.addPreset(`function read() return "one" end`)))
	old, _ := suite.registry.Handle("2a37")

	suite.build(scripted("2a37", suite.addPreset(`function read() return "two" end`)))
	suite.Equal(int32(1), stops.Load())
	suite.Equal([]byte("two"), suite.registry.Route("2a37", ActionRead, nil))

	_, err := old.Read()
	suite.ErrorIs(err, script.ErrClosed)
}

func (suite *RegistryTestSuite) TestAppStartIsPassedToScripts() {
	suite.build(scripted("2a37", suite.addPreset(`function read(a, s) return a end`)))
	suite.Equal(suite.now, suite.registry.AppStart())
	suite.Equal([]byte("1700000000000"), suite.registry.Route("2a37", ActionRead, nil))
}

func (suite *RegistryTestSuite) TestRouteAcceptsAnyUUIDNotation() {
	suite.build(scripted("2a37", suite.addPreset(`function read() return "ok" end`)))
	suite.Equal([]byte("ok"), suite.registry.Route("00002A37-0000-1000-8000-00805F9B34FB", ActionRead, nil))
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

func TestCustomSentinelAndSinks(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	id := uuid.New()
	loader := memoryLoader{id: {ID: id, Name: "logger", Code: `function read() console.log("tick") return nil end`}}

	var lines []string
	r := NewRegistry(loader,
		WithLogger(helper.Logger),
		WithSentinel("N/A"),
		WithInstructionLimit(0),
		WithSinkFactory(func(characteristic string) logsink.Sink {
			return logsink.Func(func(msg string) { lines = append(lines, characteristic+": "+msg) })
		}),
	)
	defer r.DestroyStack()

	p := profile.New("sinks")
	p.Services = []profile.Service{{UUID: "180d", Characteristics: []profile.Characteristic{{UUID: "2a37", Preset: &id}}}}
	_, err := r.BuildStack(p)
	require.NoError(t, err)

	assert.Equal(t, []byte{}, r.Route("2a37", ActionRead, nil))
	assert.Equal(t, []string{"2a37: tick"}, lines)
	assert.Equal(t, []byte("N/A"), r.Route("nope", ActionRead, nil))
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{"read", ActionRead},
		{"WRITE", ActionWrite},
		{"writeWithoutResponse", ActionWriteWithoutResponse},
		{"write-without-response", ActionWriteWithoutResponse},
		{"notify", ActionNotify},
		{"indicate", ActionIndicate},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.NotEmpty(t, got.String())
	}

	_, err := ParseAction("delete")
	assert.True(t, errors.Is(err, ErrUnsupportedAction))
	assert.Equal(t, "Action(9)", Action(9).String())
}
