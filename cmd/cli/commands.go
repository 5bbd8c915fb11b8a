package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/internal/policy"
)

func newCooldownCmd(opts *options) *cobra.Command {
	cooldownCmd := &cobra.Command{
		Use:   "cooldown",
		Short: "Manage user cooldowns",
	}

	var hashed bool
	clearCmd := &cobra.Command{
		Use:   "clear <user-id>",
		Short: "Delete every rate counter of a user across all actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			userHash := args[0]
			if !hashed {
				userHash = identity.NewResolver(cfg.Identity.HashSecret).HashUserID(args[0])
			}
			if userHash == "" {
				return fmt.Errorf("user id must not be empty")
			}

			store, closeStore, err := opts.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := store.ClearCooldowns(cmd.Context(), userHash)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d counters for %s\n", n, userHash)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&hashed, "hashed", false, "the argument is already a user hash")

	cooldownCmd.AddCommand(clearCmd)
	return cooldownCmd
}

func newEventsCmd(opts *options) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Read the operational event log",
	}

	var limit int
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent non-allow decisions, newest first, one JSON object per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := opts.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.RecentEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	tailCmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")

	eventsCmd.AddCommand(tailCmd)
	return eventsCmd
}

func newPoliciesCmd(opts *options) *cobra.Command {
	policiesCmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect enforcement policies",
	}

	var file string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the effective policy of every action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				file = cfg.Guard.PolicyFile
			}
			table, err := policy.Load(file)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tRULE\tSOFT\tHARD")
			for _, action := range table.Actions() {
				def, _ := table.Lookup(action)
				for _, r := range def.Rules {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", action, r.Describe(), r.SoftLimit, r.HardLimit)
				}
				if def.Dedup != nil {
					fmt.Fprintf(w, "%s\tdedup:%ds\t-\t-\n", action, def.Dedup.WindowSec)
				}
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVarP(&file, "file", "f", "", "policy override file (default guard.policy_file)")

	checkCmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a policy override file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := policy.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d actions\n", args[0], len(table.Actions()))
			return nil
		},
	}

	policiesCmd.AddCommand(listCmd, checkCmd)
	return policiesCmd
}

func newIdentityCmd(opts *options) *cobra.Command {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Identity hashing helpers",
	}

	var kind string
	hashCmd := &cobra.Command{
		Use:   "hash <value>",
		Short: "Print the keyed hash the guard stores for a raw identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			resolver := identity.NewResolver(cfg.Identity.HashSecret)

			var out string
			switch models.Dimension(kind) {
			case models.DimensionUserID:
				out = resolver.HashUserID(args[0])
			case models.DimensionEmail:
				out = resolver.HashEmail(args[0])
			case models.DimensionIP, models.DimensionDevice:
				out = resolver.Hash(args[0])
			default:
				return fmt.Errorf("unknown --kind %q", kind)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	hashCmd.Flags().StringVarP(&kind, "kind", "k", string(models.DimensionUserID), "userId, ipHash, deviceHash or emailHash")

	identityCmd.AddCommand(hashCmd)
	return identityCmd
}
