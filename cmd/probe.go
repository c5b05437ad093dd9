package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/nullvektor/warden/internal/hid"
	"github.com/nullvektor/warden/internal/observability"
	"github.com/nullvektor/warden/internal/timing"
)

var probeKey string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "List serial ports and optionally tap a key through the peripheral.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return fmt.Errorf("enumerating serial ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found.")
			return nil
		}
		for _, p := range ports {
			desc := p.Product
			if !p.IsUSB {
				desc = "(not USB)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", p.Name, desc)
		}

		match, err := hid.DetectPort(loadedConf.Serial().Match)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No port matches the configured descriptions.")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Auto-detection would pick %s.\n", match)
		}

		if probeKey == "" {
			return nil
		}

		logger := observability.GetLogger()
		sleeper := timing.RealSleeper{}
		timer := timing.NewEngine(loadedConf.Timing().Policy(), nil)

		link := hid.NewLink(loadedConf.Serial(), sleeper, logger)
		if err := link.Open(cmd.Context()); err != nil {
			return fmt.Errorf("opening serial link: %w", err)
		}
		defer link.Close()

		channel := hid.NewChannel(link, loadedConf.Serial(), timer, sleeper, nil, logger)
		if err := channel.PressKey(cmd.Context(), probeKey); err != nil {
			return fmt.Errorf("test keypress failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent test keypress %q.\n", probeKey)
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeKey, "key", "", "send a single test keypress through the peripheral")
	rootCmd.AddCommand(probeCmd)
}
