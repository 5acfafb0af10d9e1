package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gavinwade12/motodiag/internal/history"
	"github.com/gavinwade12/motodiag/protocols/obd"
)

func init() {
	dtcCmd.AddCommand(lookupDTCCmd)
	dtcCmd.AddCommand(dtcHistoryCmd)
	dtcCmd.AddCommand(clearDTCCmd)

	rootCmd.AddCommand(dtcCmd)
}

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Look up trouble codes and manage the trouble code history",
}

var lookupDTCCmd = &cobra.Command{
	Use:          "lookup <code or description>",
	Short:        "Search the trouble code catalog",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := obd.LoadDTCCatalog(viper.GetString(dtcFileSettingName), obdLogger(cmd))
		if len(catalog) == 0 {
			return errors.Errorf("no trouble codes loaded from '%s'", viper.GetString(dtcFileSettingName))
		}

		query := strings.Join(args, " ")
		matches := lookupDTCs(catalog, query)
		if len(matches) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no trouble codes match '%s'\n", query)
			return nil
		}
		for _, d := range matches {
			fmt.Fprintln(cmd.OutOrStdout(), formatDTC(d))
		}
		return nil
	},
}

// lookupDTCs returns the exact code when the catalog has it, and otherwise
// every entry matching query.
func lookupDTCs(catalog obd.DTCCatalog, query string) []obd.DTC {
	if d, ok := catalog.Lookup(query); ok {
		return []obd.DTC{d}
	}
	return catalog.Search(query)
}

var dtcHistoryCmd = &cobra.Command{
	Use:          "history [code]",
	Short:        "List every trouble code seen so far, or the history of one code",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return errors.Wrap(err, "opening trouble code history")
		}
		defer store.Close()

		if len(args) == 1 {
			e, err := store.Get(args[0])
			if errors.Is(err, history.ErrNotFound) {
				return errors.Errorf("'%s' is not in the trouble code history", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatEntry(e))
			return nil
		}

		entries, err := store.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no trouble codes recorded")
			return nil
		}
		for _, e := range entries {
			fmt.Fprint(cmd.OutOrStdout(), formatEntry(e))
		}
		return nil
	},
}

func formatEntry(e history.Entry) string {
	return fmt.Sprintf("%s\n\tSeen: %d time(s)\n\tFirst: %s\n\tLast: %s\n",
		formatDTC(obd.DTC{Code: e.Code, Description: e.Description}), e.Count,
		e.FirstSeen.Format(entryTimeFormat), e.LastSeen.Format(entryTimeFormat))
}

const entryTimeFormat = "2006-01-02 15:04:05"

var clearDTCCmd = &cobra.Command{
	Use:          "clear [code]",
	Short:        "Remove one trouble code, or all of them, from the history",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return errors.Wrap(err, "opening trouble code history")
		}
		defer store.Close()

		if len(args) == 0 {
			if err = store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared the trouble code history")
			return nil
		}

		err = store.Remove(args[0])
		if errors.Is(err, history.ErrNotFound) {
			return errors.Errorf("'%s' is not in the trouble code history", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", strings.ToUpper(args[0]))
		return nil
	},
}
