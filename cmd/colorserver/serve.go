package main

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/user/ble-advertiser/colorgen"
	"github.com/user/ble-advertiser/config"
	"github.com/user/ble-advertiser/peripheral"
	"github.com/user/ble-advertiser/radio"
	"github.com/user/ble-advertiser/radio/goble"
	"github.com/user/ble-advertiser/radio/sim"
)

type serveCommand struct {
	*baseCommand

	backend    string
	name       string
	interval   time.Duration
	timeout    time.Duration
	duration   time.Duration
	seed       int64
	demo       bool
	transcript string
}

func newServeCommand() *serveCommand {
	c := &serveCommand{}

	c.baseCommand = newBaseCommand(&cobra.Command{
		Use:   "serve",
		Short: "Publish the services and start advertising",
		Args:  cobra.NoArgs,
		Long: `This command powers on the radio, publishes every configured service and
advertises under the device name. Colours written by a central are logged and
a new random colour is notified to subscribers at every interval.

With the sim backend no hardware is needed. --demo connects a simulated
central that reads, subscribes and writes back colours.`,
		Example: `colorserver serve --backend sim --demo --interval 1s
colorserver serve --backend goble --name Kitchen`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe()
		},
	})

	c.cmd.Flags().StringVarP(&c.backend, "backend", "b", "", "Radio backend, sim or goble (overrides the configuration)")
	c.cmd.Flags().StringVarP(&c.name, "name", "n", "", "Advertised device name (overrides the configuration)")
	c.cmd.Flags().DurationVarP(&c.interval, "interval", "i", 0, "Notification interval (overrides the configuration)")
	c.cmd.Flags().DurationVarP(&c.timeout, "timeout", "t", 10*time.Second, "Timeout for the radio to power on")
	c.cmd.Flags().DurationVarP(&c.duration, "duration", "d", 0, "Stop after this long, 0 runs until interrupted")
	c.cmd.Flags().Int64Var(&c.seed, "seed", time.Now().UnixNano(), "Seed of the colour generator")
	c.cmd.Flags().BoolVar(&c.demo, "demo", false, "Connect a simulated central (sim backend only)")
	c.cmd.Flags().StringVar(&c.transcript, "transcript", "", "Save the sim transcript under this name on exit")
	return c
}

func (c *serveCommand) runServe() error {
	cfg, err := c.cli.LoadConfig()
	if err != nil {
		return err
	}
	if c.backend != "" {
		cfg.Backend = c.backend
	}
	if c.name != "" {
		cfg.DeviceName = c.name
	}
	if c.interval != 0 {
		cfg.NotifyInterval = c.interval
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if c.demo && cfg.Backend != config.BackendSim {
		return errors.New("--demo requires the sim backend")
	}

	pm, simManager, closeRadio, err := openBackend(cfg.Backend)
	if err != nil {
		return err
	}
	defer closeRadio()

	opts := append(cfg.ServerOptions(), peripheral.WithErrorHandler(func(err error) {
		jww.ERROR.Println(err)
	}))
	server := peripheral.NewServer(pm, opts...)
	server.SetListener(func(text string) {
		rgb := colorgen.ParseHex(text)
		jww.INFO.Printf("Received colour %q (r=%d g=%d b=%d)\n", text, rgb.R, rgb.G, rgb.B)
	})

	ctx := context.Background()
	var cancel context.CancelFunc
	if c.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.duration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	ctx = ble.WithSigHandler(ctx, cancel)
	defer cancel()

	powerCtx, powerCancel := context.WithTimeout(ctx, c.timeout)
	err = server.AwaitPoweredOn(powerCtx)
	powerCancel()
	if err != nil {
		return errors.Wrap(err, "radio did not power on")
	}
	jww.INFO.Printf("Radio is %s\n", server.State())

	for _, svc := range cfg.Services {
		if err := server.AddService(svc.UUID, svc.Characteristics()); err != nil {
			return err
		}
	}
	for id, value := range cfg.ReadValues() {
		server.SetReadValueForCharacteristic(id, value)
	}

	server.StartAdvertising(cfg.DeviceName)
	jww.INFO.Printf("Advertising as '%s' with %d service(s)\n", cfg.DeviceName, len(cfg.Services))

	if c.demo {
		go runDemoCentral(ctx, simManager, cfg, c.seed+1)
	}

	notifyID := notifyCharacteristic(cfg)
	if notifyID == "" || cfg.NotifyInterval == 0 {
		jww.INFO.Println("No notify characteristic or interval configured, serving reads and writes only")
		<-ctx.Done()
	} else {
		notifyLoop(ctx, server, notifyID, cfg.NotifyInterval, colorgen.NewGenerator(c.seed))
	}

	server.StopAdvertising()
	jww.INFO.Println("Stopped advertising")

	if simManager != nil && c.transcript != "" {
		simManager.Flush()
		path, err := simManager.SaveTranscript(c.transcript)
		if err != nil {
			return err
		}
		jww.INFO.Printf("Transcript saved to %s\n", path)
	}
	return nil
}

// openBackend returns the peripheral manager for backend. simManager is set
// only for the sim backend.
func openBackend(backend string) (pm radio.PeripheralManager, simManager *sim.Manager, closeFn func(), err error) {
	switch backend {
	case config.BackendGoBLE:
		m, err := goble.Open(goble.DefaultConfig())
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "failed to open BLE device")
		}
		return m, nil, func() {
			if err := m.Close(); err != nil {
				jww.WARN.Printf("Closing BLE device: %v\n", err)
			}
		}, nil
	default:
		m := sim.New(sim.DefaultConfig())
		return m, m, m.Close, nil
	}
}

// notifyCharacteristic returns the first configured characteristic with the
// NOTIFY or INDICATE property.
func notifyCharacteristic(cfg *config.Config) string {
	for _, svc := range cfg.Services {
		for _, ch := range svc.Characteristics {
			props := cfg.PropertiesOf(ch)
			if props.Has(radio.PropertyNotify) || props.Has(radio.PropertyIndicate) {
				return ch.UUID
			}
		}
	}
	return ""
}

func notifyLoop(ctx context.Context, server *peripheral.Server, id string, interval time.Duration, gen *colorgen.Generator) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		colour := gen.Next()
		err := server.SendNotifyValue(id, colour)
		switch {
		case err == nil:
			jww.DEBUG.Printf("Notified %s to %d subscriber(s)\n", colour, len(server.Registry().Subscribers(id)))
		case errors.Is(err, peripheral.ErrNotifyQueueFull):
			jww.WARN.Printf("Dropped %s: %v\n", colour, err)
		default:
			jww.ERROR.Println(err)
		}
	}
}
