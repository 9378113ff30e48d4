package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/user/ble-advertiser/config"
)

type Command interface {
	init(cli *Cli)
	getCommand() *cobra.Command
}

type globalOptions struct {
	Quiet      bool
	Debug      bool
	ConfigPath string
}

type baseCommand struct {
	cmd *cobra.Command
	cli *Cli
}

func (c *baseCommand) init(cli *Cli) {
	c.cli = cli
}

func (c *baseCommand) getCommand() *cobra.Command {
	return c.cmd
}

func (c *baseCommand) AddCommand(command Command) {
	c.cmd.AddCommand(command.getCommand())
}

func newBaseCommand(cmd *cobra.Command) *baseCommand {
	return &baseCommand{cmd: cmd}
}

type Cli struct {
	*baseCommand
	globalOptions
}

func NewCli() *Cli {
	c := &Cli{}

	c.baseCommand = newBaseCommand(&cobra.Command{
		Use:     "colorserver",
		Short:   "A BLE peripheral that exchanges colours with a central",
		Long:    `colorserver publishes a GATT service, advertises it and notifies subscribed centrals with a new random colour at a fixed interval.`,
		Version: "0.1",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.InitLogging()
		},
	})

	c.cmd.SilenceUsage = true
	c.cmd.SilenceErrors = true

	c.cmd.PersistentFlags().BoolVarP(&c.Quiet, "quiet", "q", false, "suppress all output")
	c.cmd.PersistentFlags().BoolVarP(&c.Debug, "debug", "D", false, "produce debug output")
	c.cmd.PersistentFlags().StringVarP(&c.ConfigPath, "config", "c", "", "configuration file (default <data dir>/config.yaml)")

	c.AddCommand(newServeCommand())
	c.AddCommand(newInitConfigCommand())
	c.AddCommand(newShowConfigCommand())

	return c
}

func (c *Cli) AddCommand(command Command) {
	command.init(c)
	c.baseCommand.AddCommand(command)
}

func (c *Cli) InitLogging() {
	if c.Debug {
		jww.SetStdoutThreshold(jww.LevelDebug)
	} else if c.Quiet {
		jww.SetStdoutThreshold(jww.LevelFatal)
	} else {
		jww.SetStdoutThreshold(jww.LevelInfo)
	}
}

// LoadConfig loads the configuration file and applies its logging settings.
// --debug raises the library log level as well.
func (c *Cli) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return nil, err
	}
	if c.Debug {
		cfg.LogLevel = "debug"
	}
	cfg.ApplyLogging()
	return cfg, nil
}

func (c *Cli) Execute() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
