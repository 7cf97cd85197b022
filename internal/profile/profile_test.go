package profile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srg/gattsim/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadJSON(t *testing.T) {
	p, err := Load("testdata/heart_rate.json")
	require.NoError(t, err)

	assert.Equal(t, "Heart Rate Sensor", p.Name)
	assert.Equal(t, "HRM-Sim", p.LocalName())
	assert.Equal(t, Value{0x4c, 0x00, 0x01, 0x02}, p.ManufacturerData)
	require.Len(t, p.Services, 2)

	chars := p.Characteristics()
	require.Len(t, chars, 4)

	hrm := chars[0]
	assert.Equal(t, "2a37", hrm.Key())
	assert.True(t, hrm.Properties.Has(PropRead))
	assert.True(t, hrm.Properties.Has(PropNotify))
	assert.Equal(t, uuid.MustParse("0b7e7a1c-5d0e-4a4b-8f57-2a5d3c1e9b01"), *hrm.Preset)
	assert.Equal(t, 500*time.Millisecond, hrm.NotifyInterval(time.Second))

	assert.Equal(t, Value{1}, chars[1].Value)
	assert.Equal(t, PropRead, chars[1].Properties)
	assert.Equal(t, time.Second, chars[1].NotifyInterval(time.Second))

	assert.Equal(t, PropWrite|PropWriteWithoutResponse, chars[2].Properties)
	assert.Equal(t, "2a37", chars[2].SharedKey())

	assert.Equal(t, Value{87}, chars[3].Value)
	assert.Equal(t, "Battery Level", chars[3].DisplayName())
}

func TestLoadYAML(t *testing.T) {
	p, err := Load("testdata/thermometer.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Thermometer", p.LocalName())
	chars := p.Characteristics()
	require.Len(t, chars, 2)
	assert.Equal(t, PropRead|PropIndicate, chars[0].Properties)
	assert.True(t, chars[0].Properties.CanNotify())
	assert.Equal(t, Value{0xe8, 0x03}, chars[1].Value)
	assert.Equal(t, 2*time.Second, chars[1].NotifyInterval(time.Second))
}

func TestSaveAndReload(t *testing.T) {
	src, err := Load("testdata/heart_rate.json")
	require.NoError(t, err)

	for _, name := range []string{"profile.json", "profile.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, src.Save(path))

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, src, got)
		})
	}
}

func TestSavedJSONShape(t *testing.T) {
	p := New("Demo")
	p.Services = []Service{{
		UUID:      "180F",
		IsPrimary: true,
		Characteristics: []Characteristic{
			{UUID: "2A19", Properties: PropRead | PropNotify, Value: Value{50}},
		},
	}}

	data, err := p.Marshal(FormatJSON)
	require.NoError(t, err)

	testutils.NewJSONAsserter(t).Assert(string(data), `{
		"version": "1.0.0",
		"uuid": "<<PRESENCE>>",
		"name": "Demo",
		"deviceName": "Demo",
		"services": [{
			"uuid": "180F",
			"isPrimary": true,
			"characteristics": [{"uuid": "2A19", "properties": 18, "value": "Mg=="}]
		}]
	}`)
}

func TestSavedYAMLUsesPropertyNames(t *testing.T) {
	c := Characteristic{UUID: "2A37", Properties: PropRead | PropNotify, Value: Value{1, 2}}
	data, err := yaml.Marshal(c)
	require.NoError(t, err)

	testutils.NewTextAsserter(t).Assert(string(data), `
uuid: 2A37
properties:
    - read
    - notify
value: "0102"
`)
}

func TestParseRejectsNewerMajorVersion(t *testing.T) {
	_, err := Parse([]byte(`{"version":"2.0.0","uuid":"6f1c2f4e-3a35-4a8e-9f1e-0d9c5e0b7a11","services":[]}`), FormatJSON)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	p, err := Parse([]byte(`{"version":"1.4.0","uuid":"6f1c2f4e-3a35-4a8e-9f1e-0d9c5e0b7a11","services":[],"future":1}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", p.Version)

	p, err = Parse([]byte(`{"uuid":"6f1c2f4e-3a35-4a8e-9f1e-0d9c5e0b7a11","services":[]}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, p.Version)
}

func TestValidate(t *testing.T) {
	preset := uuid.New()
	tests := []struct {
		name     string
		services []Service
		wantErr  bool
	}{
		{
			name:     "valid",
			services: []Service{{UUID: "180D", Characteristics: []Characteristic{{UUID: "2A37"}, {UUID: "2A38", Shared: "2A37"}}}},
		},
		{
			name:     "duplicate service",
			services: []Service{{UUID: "180D"}, {UUID: "0000180d-0000-1000-8000-00805f9b34fb"}},
			wantErr:  true,
		},
		{
			name:     "duplicate characteristic across services",
			services: []Service{{UUID: "180D", Characteristics: []Characteristic{{UUID: "2A37"}}}, {UUID: "180F", Characteristics: []Characteristic{{UUID: "2a37"}}}},
			wantErr:  true,
		},
		{
			name:     "invalid uuid",
			services: []Service{{UUID: "xyz"}},
			wantErr:  true,
		},
		{
			name:     "preset and shared",
			services: []Service{{UUID: "180D", Characteristics: []Characteristic{{UUID: "2A37", Preset: &preset, Shared: "2A38"}}}},
			wantErr:  true,
		},
		{
			name:     "shares itself",
			services: []Service{{UUID: "180D", Characteristics: []Characteristic{{UUID: "2A37", Shared: "00002a37-0000-1000-8000-00805f9b34fb"}}}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("v")
			p.Services = tt.services
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProfile)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateCharacteristic(t *testing.T) {
	p, err := Load("testdata/heart_rate.json")
	require.NoError(t, err)

	require.NoError(t, p.UpdateCharacteristic("00002a38-0000-1000-8000-00805f9b34fb", func(c *Characteristic) {
		c.Value = Value{2}
	}))
	c, svc := p.FindCharacteristic("2a38")
	require.NotNil(t, c)
	assert.Equal(t, Value{2}, c.Value)
	assert.Equal(t, "180D", svc.UUID)

	err = p.UpdateCharacteristic("ffff", func(*Characteristic) {})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPropertiesParsing(t *testing.T) {
	tests := []struct {
		in   string
		want Properties
		err  bool
	}{
		{in: `18`, want: PropRead | PropNotify},
		{in: `"read,write"`, want: PropRead | PropWrite},
		{in: `"read | write-without-response"`, want: PropRead | PropWriteWithoutResponse},
		{in: `["Notify","indicate"]`, want: PropNotify | PropIndicate},
		{in: `null`, want: 0},
		{in: `"teleport"`, err: true},
		{in: `300`, err: true},
		{in: `[1]`, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var p Properties
			err := json.Unmarshal([]byte(tt.in), &p)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}

	assert.Equal(t, "read,writeWithoutResponse,notify", (PropRead | PropNotify | PropWriteWithoutResponse).String())
}

func TestValueJSON(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`[1, 2, 255]`), &v))
	assert.Equal(t, Value{1, 2, 255}, v)

	assert.Error(t, json.Unmarshal([]byte(`[256]`), &v))
	assert.Error(t, json.Unmarshal([]byte(`"not base64!"`), &v))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
