package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ble-advertiser/radio"
	"github.com/user/ble-advertiser/util"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "iPhone", cfg.DeviceName)
	require.Len(t, cfg.Services, 1)
	assert.Len(t, cfg.Services[0].Characteristics, 3)
	assert.Equal(t, map[string]string{ColourReadUUID: "#00FF00"}, cfg.ReadValues())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
device_name: Kitchen
backend: goble
log_level: debug
read_miss: empty
decode: replace
notify_interval: 250ms
services:
  - uuid: 96E4D99A-066F-444C-B67C-112345E3B1A2
    characteristics:
      - uuid: 3D84E60B-90D0-40D4-993A-1B83424CB868
        properties: [READ]
        permissions: [READABLE]
        value: fixed
`))
	require.NoError(t, err)

	assert.Equal(t, "Kitchen", cfg.DeviceName)
	assert.Equal(t, BackendGoBLE, cfg.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.NotifyInterval)
	assert.Equal(t, "text", cfg.LogFormat, "unset fields keep their defaults")

	chars := cfg.Services[0].Characteristics()
	require.Len(t, chars, 1)
	assert.Equal(t, []byte("fixed"), chars[0].InitialValue)
	assert.Len(t, cfg.ServerOptions(), 2)
}

func TestExtendedProperties(t *testing.T) {
	ch := CharacteristicConfig{UUID: ColourNotifyUUID, Properties: []string{"INDICATE"}}

	cfg := Default()
	assert.Len(t, cfg.ServerOptions(), 2)
	assert.Equal(t, radio.CharacteristicProperties(0), cfg.PropertiesOf(ch))

	cfg, err := Parse([]byte("extended_properties: true\n"))
	require.NoError(t, err)
	assert.Len(t, cfg.ServerOptions(), 3)
	assert.Equal(t, radio.PropertyIndicate, cfg.PropertiesOf(ch))
}

func TestParseWithoutServicesUsesColourProfile(t *testing.T) {
	cfg, err := Parse([]byte("device_name: Lamp\n"))
	require.NoError(t, err)
	assert.Equal(t, ColourServiceUUID, cfg.Services[0].UUID)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "colour: red\n"},
		{"empty name", "device_name: ' '\n"},
		{"backend", "backend: bluez\n"},
		{"read miss", "read_miss: panic\n"},
		{"decode", "decode: lossy\n"},
		{"negative interval", "notify_interval: -1s\n"},
		{"service uuid", "services:\n  - uuid: not-a-uuid\n"},
		{"braced service uuid", "services:\n  - uuid: '{96E4D99A-066F-444C-B67C-112345E3B1A2}'\n"},
		{"urn service uuid", "services:\n  - uuid: urn:uuid:96E4D99A-066F-444C-B67C-112345E3B1A2\n"},
		{"compact characteristic uuid", "services:\n  - uuid: 96E4D99A-066F-444C-B67C-112345E3B1A2\n    characteristics:\n      - uuid: 3D84E60B90D040D4993A1B83424CB868\n"},
		{"characteristic uuid", "services:\n  - uuid: 96E4D99A-066F-444C-B67C-112345E3B1A2\n    characteristics:\n      - uuid: nope\n"},
		{"value and read value", "services:\n  - uuid: 96E4D99A-066F-444C-B67C-112345E3B1A2\n    characteristics:\n      - uuid: 3D84E60B-90D0-40D4-993A-1B83424CB868\n        value: a\n        read_value: b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(util.DataDirEnv, dir)

	cfg, err := Load("")
	require.NoError(t, err, "a missing default config falls back to defaults")
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	cfg.DeviceName = "Saved"
	path, err := util.ConfigPath()
	require.NoError(t, err)
	require.NoError(t, cfg.Save(path))

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Saved", loaded.DeviceName)
	assert.Equal(t, cfg.Services, loaded.Services)
}

func TestLoadReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}
