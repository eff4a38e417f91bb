// Command scanlink streams laser scans between machines over UDP, rebuilds
// the obstacle table on the receiving side and supervises sensor resets.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scanlink/internal/config"
)

// exitRestart tells the service manager to start the binary again.
const exitRestart = 3

var errRestartRequested = errors.New("application restart requested")

type options struct {
	configPath string
	cfg        *config.Config
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		if errors.Is(err, errRestartRequested) {
			log.Printf("exiting with status %d so the application is restarted", exitRestart)
			os.Exit(exitRestart)
		}
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "scanlink",
		Short: "Stream laser scans over UDP and rebuild obstacles on the far side",
		Long: `scanlink links a 2D laser scanner to remote consumers.

The send side reads the scanner (or a simulator), rate-limits frames and
sends them as sequenced datagrams. The receive side tracks sequence
numbers per peer, drops stale frames and keeps an obstacle table. A
control channel and hotkeys trigger sensor resets and toggle sending.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if err := applyOverrides(cmd.Flags(), cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "JSON or YAML config file (defaults apply when omitted)")
	addOverrideFlags(root.PersistentFlags())

	root.AddCommand(
		sendCmd(opts),
		receiveCmd(opts),
		replayCmd(opts),
		posdemoCmd(opts),
		commandCmd(opts),
		versionCmd(),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Empty(), nil
	}
	return config.Load(path)
}
