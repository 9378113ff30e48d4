package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	yaml "gopkg.in/yaml.v2"

	"github.com/user/ble-advertiser/config"
	"github.com/user/ble-advertiser/util"
)

type initConfigCommand struct {
	*baseCommand

	force bool
}

func newInitConfigCommand() *initConfigCommand {
	c := &initConfigCommand{}

	c.baseCommand = newBaseCommand(&cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		Long: `This command writes the default random colour profile to the configuration
file so it can be edited. An existing file is only replaced with --force.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInitConfig()
		},
	})

	c.cmd.Flags().BoolVarP(&c.force, "force", "f", false, "Overwrite an existing configuration file")
	return c
}

func (c *initConfigCommand) runInitConfig() error {
	path := c.cli.ConfigPath
	if path == "" {
		var err error
		if path, err = util.ConfigPath(); err != nil {
			return err
		}
	}
	path, err := util.ExpandPath(path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !c.force {
		return errors.Errorf("%s already exists. Use --force to overwrite it.", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}
	jww.INFO.Printf("Wrote default configuration to %s\n", path)
	return nil
}

type showConfigCommand struct {
	*baseCommand
}

func newShowConfigCommand() *showConfigCommand {
	c := &showConfigCommand{}

	c.baseCommand = newBaseCommand(&cobra.Command{
		Use:   "show-config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.cli.LoadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(err, "failed to encode configuration")
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return c
}
