package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openrig/rigup/pkg/policy"
	"github.com/openrig/rigup/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var (
		policyDirs []string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a profile without applying it",
		Long: `Validate the profile's structure and evaluate it against the
configured policies. Nothing on the host is touched.`,
		Example: `  # Validate the builtin profile
  rigup validate

  # Validate a custom profile with extra policies
  rigup validate --profile ./studio.cue --policy-dir ./policies

  # Re-validate whenever a policy file changes
  rigup validate --policy-dir ./policies --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := buildLogger()
			if err != nil {
				return err
			}

			p, err := loadProfile()
			if err != nil {
				return err
			}
			logger.Infof("profile %s: %d stage(s)", p.Name, len(p.Stages))

			engine, err := policy.NewEngine(logger.Zerolog())
			if err != nil {
				return err
			}
			if len(policyDirs) > 0 {
				if err := engine.LoadPolicies(ctx, policyDirs); err != nil {
					return err
				}
			}

			evaluate := func() (bool, int, error) {
				result, err := engine.EvaluateProfile(ctx, p)
				if err != nil {
					return false, 0, err
				}
				for _, w := range result.Warnings {
					logger.Warn(w)
				}
				for _, v := range result.Violations {
					logger.WithField("policy", v.Policy).
						WithField("severity", v.Severity).
						WithStep(v.Step).
						Warn(v.Message)
				}
				if result.Allowed {
					logger.Infof("profile %s is valid", p.Name)
				}
				return result.Allowed, len(result.Violations), nil
			}

			allowed, violations, err := evaluate()
			if err != nil {
				return err
			}

			if watch {
				return watchPolicies(ctx, logger, engine, policyDirs, p.Name, evaluate)
			}

			if !allowed {
				return fmt.Errorf("profile %s rejected by policy: %d violation(s)",
					p.Name, violations)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy directories (.rego files)")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-validate when policy files change")

	return cmd
}

// watchPolicies re-validates the profile whenever a .rego file under the
// policy paths changes, until the context is cancelled. A rejection in
// watch mode is reported but does not end the session.
func watchPolicies(ctx context.Context, logger *telemetry.Logger, engine *policy.Engine, paths []string, profileName string, evaluate func() (bool, int, error)) error {
	if len(paths) == 0 {
		return fmt.Errorf("--watch requires at least one --policy-dir")
	}

	loader := policy.NewLoader(logger.Zerolog())
	reload := func(policies []policy.Policy) error {
		if err := engine.ReplacePolicies(policies); err != nil {
			return err
		}
		allowed, violations, err := evaluate()
		if err != nil {
			return err
		}
		if !allowed {
			logger.Warnf("profile %s rejected by policy: %d violation(s)", profileName, violations)
		}
		return nil
	}

	if err := loader.Watch(ctx, paths, reload); err != nil {
		return err
	}
	defer func() { _ = loader.StopWatching() }()

	logger.Infof("watching %d policy path(s) for changes, interrupt to stop", len(paths))
	<-ctx.Done()
	return nil
}
