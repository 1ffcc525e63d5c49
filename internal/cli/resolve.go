package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/placemaster/internal/resolve"
)

var (
	resolveContext string
	resolveTimeout time.Duration
)

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Resolve a place name to its master record",
	Long: `Resolve normalizes a raw place name and returns the id of its master,
creating (validating and geocoding) the master on first sight.

Example:
  placemaster resolve 東京
  placemaster resolve 大坂 --context "大坂の陣で知られる"`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVar(&resolveContext, "context", "", "sentence the name appears in (used for validation)")
	resolveCmd.Flags().DurationVar(&resolveTimeout, "timeout", 1*time.Minute, "overall timeout")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), resolveTimeout)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.resolver.Resolve(ctx, args[0], resolveContext)
	if err != nil {
		var rejected *resolve.RejectedPlaceError
		if errors.As(err, &rejected) {
			return fmt.Errorf("%q is not a place name (confidence %.2f): %s", args[0], rejected.Confidence, rejected.Reasoning)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "master_id: %s\n", res.MasterID)
	fmt.Fprintf(out, "key:       %s\n", res.Key)
	fmt.Fprintf(out, "created:   %v\n", res.Created)
	if res.Created {
		fmt.Fprintf(out, "geocoded:  %v\n", res.Geocoded)
	}
	return nil
}
