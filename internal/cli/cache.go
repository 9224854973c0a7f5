package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/cache"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/db"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
)

func newCacheCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the persisted cache",
	}
	cmd.AddCommand(newCacheListCmd(rt), newCacheRemoveCmd(rt))
	return cmd
}

func (rt *runtime) openKV(cmd *cobra.Command) (*db.DB, *db.KVRepository, error) {
	database, err := db.Open(cmd.Context(), db.Config{
		Path:          rt.cfg.DatabasePath(),
		BusyTimeoutMS: rt.cfg.Persistence.BusyTimeoutMs,
	})
	if err != nil {
		return nil, nil, Exitf(ExitCodeFailure, "open cache database: %v", err)
	}
	return database, db.NewKVRepository(database), nil
}

// persistedSummary is the part of a persisted entry ls shows.
type persistedSummary struct {
	Data []json.RawMessage `json:"data"`
}

func newCacheListCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [key-prefix]",
		Short: "List persisted cache entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, kv, err := rt.openKV(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			prefix := cache.StoragePrefix
			if len(args) == 1 {
				prefix += strings.TrimSpace(args[0])
			}
			entries, err := kv.List(cmd.Context(), prefix)
			if err != nil {
				return exitFor(err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no cached entries)")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tRECORDS\tSIZE\tUPDATED")
			for _, e := range entries {
				records := "?"
				var s persistedSummary
				if err := json.Unmarshal([]byte(e.Value), &s); err == nil {
					records = fmt.Sprintf("%d", len(s.Data))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					strings.TrimPrefix(e.Key, cache.StoragePrefix),
					records,
					humanize.Bytes(uint64(len(e.Value))),
					humanize.Time(e.UpdatedAt),
				)
			}
			return w.Flush()
		},
	}
}

func newCacheRemoveCmd(rt *runtime) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "rm [key...]",
		Short: "Remove persisted cache entries",
		Long:  "Remove persisted entries by query key (e.g. conversation/42/messages), or every entry with --all.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return Exitf(ExitCodeValidation, "pass at least one key or --all")
			}
			database, kv, err := rt.openKV(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			if all {
				n, err := kv.Purge(cmd.Context(), cache.StoragePrefix)
				if err != nil {
					return exitFor(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
				return nil
			}
			for _, arg := range args {
				key, err := models.ParseQueryKey(strings.TrimSpace(arg))
				if err != nil || len(key) == 0 {
					return Exitf(ExitCodeValidation, "invalid key %q", arg)
				}
				if err := kv.RemoveItem(cmd.Context(), cache.StoragePrefix+key.String()); err != nil {
					return exitFor(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every persisted entry")
	return cmd
}
