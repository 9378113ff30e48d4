package scenario

import (
	"os"
	"testing"

	"github.com/user/ble-advertiser/util"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "ble-advertiser-scenario-")
	if err != nil {
		panic(err)
	}
	os.Setenv(util.DataDirEnv, dir)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}
