package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/store"
)

var (
	listLimit     int
	listOffset    int
	listStatus    string
	mentionsLimit int
	regeocodeMax  int
)

// masterCmd groups master inspection and curation commands
var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Inspect and curate master places",
}

var masterShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a master with its aliases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		m, err := a.store.GetMaster(ctx, args[0])
		if err != nil {
			return err
		}
		aliases, err := a.store.ListAliases(ctx, m.ID)
		if err != nil {
			return err
		}

		view := struct {
			Master  *model.MasterPlace `json:"master"`
			Aliases []model.Alias      `json:"aliases,omitempty"`
		}{m, aliases}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(view)
	},
}

var masterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List masters, most used first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		var status model.ValidationStatus
		if listStatus != "" {
			if status, err = parseStatus(listStatus); err != nil {
				return err
			}
		}
		masters, err := a.store.ListMasters(ctx, store.ListOptions{
			Limit:  listLimit,
			Offset: listOffset,
			Status: status,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKEY\tUSAGE\tSTATUS\tPREFECTURE\tCOORDS")
		for _, m := range masters {
			coords := "-"
			if m.HasCoordinates() {
				coords = fmt.Sprintf("%.4f,%.4f", *m.Latitude, *m.Longitude)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				m.ID, m.DisplayName, m.NormalizedName, m.UsageCount, m.ValidationStatus, m.Prefecture, coords)
		}
		return w.Flush()
	},
}

var masterMentionsCmd = &cobra.Command{
	Use:   "mentions <id>",
	Short: "List recorded mentions of a master",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		mentions, err := a.store.ListMentions(ctx, args[0], mentionsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MENTION\tSPAN\tTEXT\tPOSITION\tVERIFIED")
		for _, m := range mentions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d-%d\t%v\n", m.ID, m.SpanID, m.MatchedText, m.StartPosition, m.EndPosition, m.Verified)
		}
		return w.Flush()
	},
}

var masterRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Mark a master as not a place; new mentions of it are refused",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if err := a.resolver.SetStatus(ctx, args[0], model.StatusRejected); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ master %s rejected\n", args[0])
		return nil
	},
}

var masterStatusCmd = &cobra.Command{
	Use:   "status <id> <pending|validated|rejected>",
	Short: "Set the validation status of a master",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := parseStatus(args[1])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if err := a.resolver.SetStatus(ctx, args[0], status); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ master %s is now %s\n", args[0], status)
		return nil
	},
}

func parseStatus(s string) (model.ValidationStatus, error) {
	status, ok := model.ParseValidationStatus(strings.ToLower(strings.TrimSpace(s)))
	if !ok {
		return "", fmt.Errorf("unknown validation status %q (want pending, validated or rejected)", s)
	}
	return status, nil
}

var masterDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a master with its aliases and mentions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if err := a.resolver.DeleteMaster(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ master %s deleted\n", args[0])
		return nil
	},
}

var masterRegeocodeCmd = &cobra.Command{
	Use:   "regeocode",
	Short: "Retry geocoding for masters without coordinates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if a.geocoder == nil {
			return fmt.Errorf("no geocoding provider configured")
		}
		sum, err := a.resolver.RegeocodePending(ctx, regeocodeMax)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "attempted: %d\ngeocoded:  %d\nnot found: %d\nfailed:    %d\n",
			sum.Attempted, sum.Geocoded, sum.NotFound, sum.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.AddCommand(masterShowCmd, masterListCmd, masterMentionsCmd, masterRejectCmd, masterStatusCmd, masterDeleteCmd, masterRegeocodeCmd)

	masterListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of masters")
	masterListCmd.Flags().IntVar(&listOffset, "offset", 0, "number of masters to skip")
	masterListCmd.Flags().StringVar(&listStatus, "status", "", "filter by validation status (pending, validated, rejected)")
	masterMentionsCmd.Flags().IntVar(&mentionsLimit, "limit", 100, "maximum number of mentions")
	masterRegeocodeCmd.Flags().IntVar(&regeocodeMax, "limit", 100, "maximum number of masters to retry")
}
