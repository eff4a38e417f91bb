package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scanlink/internal/control"
	"github.com/banshee-data/scanlink/internal/monitoring"
)

func commandCmd(opts *options) *cobra.Command {
	names := make([]string, 0, len(control.Commands))
	for _, c := range control.Commands {
		names = append(names, string(c))
	}
	return &cobra.Command{
		Use:       "command <" + strings.Join(names, "|") + ">",
		Short:     "Send one control datagram to a running sender",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := control.Parse([]byte(args[0]))
			if err != nil {
				return err
			}
			addr := opts.cfg.ControlAddress()
			client, err := control.Dial(addr, transportConfig(opts.cfg))
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Send(c); err != nil {
				return err
			}
			monitoring.Logf("sent %s to %s", c, addr)
			return nil
		},
	}
}
