package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ble-advertiser/config"
	"github.com/user/ble-advertiser/util"
)

func TestNotifyCharacteristic(t *testing.T) {
	assert.Equal(t, config.ColourNotifyUUID, notifyCharacteristic(config.Default()))

	cfg := config.Default()
	cfg.Services[0].Characteristics = cfg.Services[0].Characteristics[1:]
	assert.Equal(t, "", notifyCharacteristic(cfg))
}

func TestInitAndShowConfig(t *testing.T) {
	t.Setenv(util.DataDirEnv, t.TempDir())
	path := filepath.Join(t.TempDir(), "colour.yaml")

	cli := NewCli()
	cli.cmd.SetArgs([]string{"init-config", "--config", path})
	require.NoError(t, cli.cmd.Execute())
	_, err := os.Stat(path)
	require.NoError(t, err)

	cli = NewCli()
	cli.cmd.SetArgs([]string{"init-config", "--config", path})
	assert.Error(t, cli.cmd.Execute(), "existing file needs --force")

	var out bytes.Buffer
	cli = NewCli()
	cli.cmd.SetOut(&out)
	cli.cmd.SetArgs([]string{"show-config", "--config", path})
	require.NoError(t, cli.cmd.Execute())
	assert.Contains(t, out.String(), "device_name: iPhone")
}

func TestServeSimDemo(t *testing.T) {
	t.Setenv(util.DataDirEnv, t.TempDir())

	cli := NewCli()
	cli.cmd.SetArgs([]string{"serve", "--quiet", "--demo", "--interval", "20ms", "--duration", "200ms", "--seed", "1", "--transcript", "demo"})
	require.NoError(t, cli.cmd.Execute())

	dir, err := util.TranscriptDir()
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "demo.json"))
	assert.NoError(t, err)
}

func TestServeRejectsDemoOnHardware(t *testing.T) {
	t.Setenv(util.DataDirEnv, t.TempDir())

	cli := NewCli()
	cli.cmd.SetArgs([]string{"serve", "--backend", "goble", "--demo"})
	assert.Error(t, cli.cmd.Execute())
}
