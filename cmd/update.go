package cmd

import (
	"fmt"
	"runtime"

	"github.com/blang/semver"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const repositorySlug = "s0up4200/exactonline"

var checkOnly bool

// selfUpdateCmd replaces the running binary with the latest GitHub release
var selfUpdateCmd = &cobra.Command{
	Use:         "self-update",
	Short:       "Update exactonline to the latest release",
	Annotations: map[string]string{skipInit: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		current, err := semver.ParseTolerant(version)
		if err != nil {
			return fmt.Errorf("cannot self-update a %q build: %w", version, err)
		}

		latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(repositorySlug))
		if err != nil {
			return fmt.Errorf("failed to check for updates: %w", err)
		}
		if !found {
			return fmt.Errorf("no release found for %s/%s", runtime.GOOS, runtime.GOARCH)
		}

		if latest.LessOrEqual(current.String()) {
			fmt.Fprintf(out, "Already up to date (%s).\n", current)
			return nil
		}

		if checkOnly {
			fmt.Fprintf(out, "Update available: %s -> %s\n", current, latest.Version())
			return nil
		}

		exe, err := selfupdate.ExecutablePath()
		if err != nil {
			return fmt.Errorf("failed to locate executable: %w", err)
		}
		if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
			return fmt.Errorf("failed to update binary: %w", err)
		}

		fmt.Fprintf(out, "✓ Updated to %s\n", latest.Version())
		return nil
	},
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{skipInit: ""},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "exactonline %s (built %s, %s/%s)\n", version, buildTime, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	selfUpdateCmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether an update is available")
}
