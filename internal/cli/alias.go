package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/resolve"
)

var (
	aliasType       string
	aliasConfidence float64
)

// aliasCmd groups alias maintenance commands
var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage place aliases",
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <master-id> <alias>",
	Short: "Register an alternate name for a master",
	Long: `Add registers an alias so future mentions of it resolve to the given master
without any oracle call.

Alias types: variant, historical, colloquial

Example:
  placemaster alias add 3f2a... 江戸 --type historical
  placemaster alias add 3f2a... 大坂 --type variant --confidence 0.9`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		return addAlias(ctx, a.resolver, args[0], args[1], model.AliasType(aliasType), aliasConfidence, cmd)
	},
}

type aliasAdder interface {
	AddAlias(ctx context.Context, masterID, aliasName string, aliasType model.AliasType, confidence float64) error
}

func addAlias(ctx context.Context, r aliasAdder, masterID, name string, typ model.AliasType, confidence float64, cmd *cobra.Command) error {
	if err := r.AddAlias(ctx, masterID, name, typ, confidence); err != nil {
		var dup *resolve.DuplicateAliasError
		if errors.As(err, &dup) {
			return fmt.Errorf("%q already resolves to master %s", name, dup.ExistingMasterID)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %q now resolves to %s\n", name, masterID)
	return nil
}

func init() {
	rootCmd.AddCommand(aliasCmd)
	aliasCmd.AddCommand(aliasAddCmd)

	aliasAddCmd.Flags().StringVar(&aliasType, "type", string(model.AliasVariant), "alias type (variant, historical, colloquial)")
	aliasAddCmd.Flags().Float64Var(&aliasConfidence, "confidence", 1.0, "alias confidence in [0,1]")
}
