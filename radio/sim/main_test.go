package sim

import (
	"os"
	"testing"

	"github.com/user/ble-advertiser/util"
)

// TestMain points the data directory at a temporary directory so saved
// transcripts never land in ~/.ble-advertiser
func TestMain(m *testing.M) {
	tempDir, err := os.MkdirTemp("", "blesim-*")
	if err != nil {
		panic(err)
	}
	os.Setenv(util.DataDirEnv, tempDir)

	code := m.Run()

	os.RemoveAll(tempDir)
	os.Exit(code)
}
