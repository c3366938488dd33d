package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openrig/rigup/pkg/remote"
)

func newBootstrapCommand() *cobra.Command {
	var (
		inventoryPath string
		targetNames   []string
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Provision remote hosts over SSH",
		Long: `Upload this binary and a profile to hosts from a YAML inventory
and run the apply there. Without --target, every inventory host is
bootstrapped in order.`,
		Example: `  # Bootstrap every host in the inventory
  rigup bootstrap --inventory hosts.yaml

  # Bootstrap one host with a custom profile, dry-run first
  rigup bootstrap --inventory hosts.yaml --target studio-b --profile ./studio.cue --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := buildLogger()
			if err != nil {
				return err
			}
			zlog := logger.Zerolog()

			inv, err := remote.LoadInventory(inventoryPath)
			if err != nil {
				return err
			}

			var targets []*remote.Target
			if len(targetNames) > 0 {
				for _, name := range targetNames {
					t, err := inv.Find(name)
					if err != nil {
						return err
					}
					targets = append(targets, t)
				}
			} else {
				for i := range inv.Targets {
					targets = append(targets, &inv.Targets[i])
				}
			}
			if len(targets) == 0 {
				return fmt.Errorf("inventory %s has no targets", inventoryPath)
			}

			binary, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to locate own binary: %w", err)
			}
			bootstrapper := remote.NewBootstrapper(binary, zlog)

			failed := 0
			for _, target := range targets {
				result, err := bootstrapper.Bootstrap(ctx, target, profilePath, dryRun)
				if err != nil {
					logger.WithField("target", target.Name).WithError(err).
						Error("bootstrap failed")
					failed++
					continue
				}
				if result.ExitCode != 0 {
					logger.WithField("target", target.Name).
						Warnf("remote apply exited %d after %s", result.ExitCode, result.Duration)
					failed++
					continue
				}
				logger.WithField("target", target.Name).
					Infof("bootstrapped in %s", result.Duration)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d target(s) failed", failed, len(targets))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inventoryPath, "inventory", "", "YAML inventory of target hosts")
	cmd.Flags().StringSliceVar(&targetNames, "target", nil, "bootstrap only the named target(s)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the remote apply in dry-run mode")
	_ = cmd.MarkFlagRequired("inventory")

	return cmd
}
