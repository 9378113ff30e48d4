package main

import (
	"context"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/user/ble-advertiser/colorgen"
	"github.com/user/ble-advertiser/config"
	"github.com/user/ble-advertiser/radio"
	"github.com/user/ble-advertiser/radio/sim"
)

// runDemoCentral plays the phone side of the colour exchange against the
// simulated stack: read the current colour, subscribe, and answer every
// notification by writing a fresh colour back.
func runDemoCentral(ctx context.Context, m *sim.Manager, cfg *config.Config, seed int64) {
	phone := m.Connect("demo-phone")
	defer phone.Disconnect()

	var readID, writeID, notifyID uuid.UUID
	for _, svc := range cfg.Services {
		for _, ch := range svc.Characteristics {
			id, err := uuid.Parse(ch.UUID)
			if err != nil {
				continue
			}
			props := cfg.PropertiesOf(ch)
			if props.Has(radio.PropertyRead) {
				readID = id
			}
			if props.Has(radio.PropertyWrite) {
				writeID = id
			}
			if props.Has(radio.PropertyNotify) || props.Has(radio.PropertyIndicate) {
				notifyID = id
			}
		}
	}

	if readID != uuid.Nil {
		value, err := phone.Read(ctx, readID)
		if err != nil {
			jww.WARN.Printf("[demo] read failed: %v\n", err)
		} else {
			jww.INFO.Printf("[demo] read colour %s\n", value)
		}
	}
	if notifyID == uuid.Nil {
		return
	}
	if err := phone.Subscribe(ctx, notifyID); err != nil {
		jww.WARN.Printf("[demo] subscribe failed: %v\n", err)
		return
	}

	gen := colorgen.NewGenerator(seed)
	for {
		n, err := phone.Next(ctx)
		if err != nil {
			return
		}
		jww.INFO.Printf("[demo] notified colour %s\n", n.Value)
		if writeID == uuid.Nil {
			continue
		}
		if err := phone.Write(ctx, writeID, []byte(gen.Next())); err != nil && ctx.Err() == nil {
			jww.WARN.Printf("[demo] write failed: %v\n", err)
		}
	}
}
