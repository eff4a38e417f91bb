package main

import (
	"github.com/spf13/pflag"

	"github.com/banshee-data/scanlink/internal/config"
)

// addOverrideFlags declares the flags that override config file values.
// Only flags set on the command line are applied.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.String("host", "", "destination host for scan and position datagrams (default 127.0.0.1)")
	fs.String("bind", "", "local bind host for listeners")
	fs.Int("port", 0, "data port (default 5000)")
	fs.String("control-host", "", "host control commands are sent to (default 127.0.0.1)")
	fs.Int("control-port", 0, "control port (default 6000)")
	fs.String("wire-format", "", "datagram encoding: text or cbor")
	fs.Bool("legacy", false, "send scans without a sequence prefix")
	fs.String("source", "", "scan source: simulated or serial")
	fs.String("serial-path", "", "serial device of the scanner")
	fs.Int("rays", 0, "readings per scan (default 1081)")
	fs.Float64("max-distance", 0, "maximum range in metres (default 10)")
	fs.Duration("send-interval", 0, "minimum interval between sent scans (default 50ms)")
	fs.Duration("cooldown", 0, "sensor reset cooldown (default 6s)")
	fs.Duration("log-interval", 0, "link statistics log interval (default 2s)")
	fs.String("monitor", "", "monitor HTTP listen address; empty disables (default :8081)")
	fs.String("event-db", "", "sqlite event log path; empty disables (default scanlink.db)")
	fs.String("snapshot-dir", "", "directory for PNG obstacle snapshots; empty disables")
}

// applyOverrides copies every changed flag in fs onto cfg.
func applyOverrides(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	str := func(name string, dst **string) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v string
		if v, err = fs.GetString(name); err == nil {
			*dst = &v
		}
	}
	integer := func(name string, dst **int) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v int
		if v, err = fs.GetInt(name); err == nil {
			*dst = &v
		}
	}
	float := func(name string, dst **float64) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v float64
		if v, err = fs.GetFloat64(name); err == nil {
			*dst = &v
		}
	}
	boolean := func(name string, dst **bool) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v bool
		if v, err = fs.GetBool(name); err == nil {
			*dst = &v
		}
	}
	duration := func(name string, dst **string) {
		if err != nil || !fs.Changed(name) {
			return
		}
		d, derr := fs.GetDuration(name)
		if derr != nil {
			err = derr
			return
		}
		s := d.String()
		*dst = &s
	}

	str("host", &cfg.DataHost)
	str("bind", &cfg.BindHost)
	integer("port", &cfg.DataPort)
	str("control-host", &cfg.ControlHost)
	integer("control-port", &cfg.ControlPort)
	str("wire-format", &cfg.WireFormat)
	boolean("legacy", &cfg.LegacyScanFormat)
	str("source", &cfg.Source)
	str("serial-path", &cfg.SerialPath)
	integer("rays", &cfg.Rays)
	float("max-distance", &cfg.MaxDistance)
	duration("send-interval", &cfg.SendInterval)
	duration("cooldown", &cfg.ResetCooldown)
	duration("log-interval", &cfg.LogInterval)
	str("monitor", &cfg.MonitorListen)
	str("event-db", &cfg.EventDB)
	str("snapshot-dir", &cfg.SnapshotDir)
	return err
}
