package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexiqai/tutor-client/internal/audio"
)

func newDevicesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.loadConfig(); err != nil {
				return err
			}
			devices, err := audio.ListInputs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list audio inputs: %w", err)
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audio inputs found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), deviceTable(devices))
			return nil
		},
	}
}

func deviceTable(devices []audio.Device) string {
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		rows = append(rows, []string{
			yesNo(dev.Default),
			dev.ID,
			dev.Description,
			dev.State,
			yesNo(dev.Available),
			yesNo(dev.Muted),
		})
	}
	return renderTable(
		[]string{"Default", "ID", "Description", "State", "Available", "Muted"},
		rows,
		[]columnAlignment{alignCenter, alignLeft, alignLeft, alignLeft, alignCenter, alignCenter},
	)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
