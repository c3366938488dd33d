package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openrig/rigup/pkg/alsa"
	"github.com/openrig/rigup/pkg/execute"
)

func newDevicesCommand() *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List ALSA playback devices on this host",
		Long: `List the host's ALSA playback devices as enumerated by aplay -l.
With --pattern, also resolve the card a profile's device binding would
select for that pattern.`,
		Example: `  # List all playback devices
  rigup devices

  # Show which card a USB interface binding would resolve to
  rigup devices --pattern "USB Audio"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := buildLogger()
			if err != nil {
				return err
			}

			runner := execute.NewLocalRunner(logger.Zerolog())
			result, err := runner.Run(ctx, []string{"aplay", "-l"}, execute.Options{
				CaptureOutput: true,
			})
			if err != nil {
				return fmt.Errorf("enumerating audio devices: %w", err)
			}
			if result.ExitCode != 0 {
				return fmt.Errorf("aplay -l exited %d: %s",
					result.ExitCode, strings.TrimSpace(result.Stderr))
			}

			fmt.Fprint(cmd.OutOrStdout(), result.Stdout)

			if pattern != "" {
				device := alsa.ResolveCard(pattern, result.Stdout)
				if device.Matched {
					fmt.Fprintf(cmd.OutOrStdout(), "\npattern %q resolves to %s\n",
						pattern, alsa.HardwareID(device))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "\npattern %q matched no card; fallback is %s\n",
						pattern, alsa.HardwareID(device))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "resolve the card matching this substring")

	return cmd
}
