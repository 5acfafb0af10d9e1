package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gavinwade12/motodiag/internal/history"
	"github.com/gavinwade12/motodiag/protocols/obd"
)

func init() {
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:          "scan",
	Short:        "Read each live parameter once, then scan for trouble codes.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		conn, err := openConnection(ctx, cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		imperial := viper.GetBool(imperialSettingName)
		for _, c := range obd.LiveCommands {
			resp, err := conn.Query(ctx, c)
			if err != nil {
				return errors.Wrapf(err, "querying %s", c.Name)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatLine(c, resp, imperial))
		}

		_, err = scanDTCs(ctx, cmd, conn)
		return err
	},
}

// scanDTCs runs a fault scan, prints the result and records it into the
// history database.
func scanDTCs(ctx context.Context, cmd *cobra.Command, conn obd.Connection) ([]obd.DTC, error) {
	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), "scanning for trouble codes...")
	}
	dtcs, err := obd.Scan(ctx, conn)
	if err != nil {
		return nil, err
	}

	if len(dtcs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no trouble codes found")
	}
	for _, d := range dtcs {
		fmt.Fprintln(cmd.OutOrStdout(), formatDTC(d))
	}

	store, err := openHistory()
	if err != nil {
		return nil, errors.Wrap(err, "opening trouble code history")
	}
	defer store.Close()

	return dtcs, recordDTCs(cmd, store, dtcs, time.Now())
}

func recordDTCs(cmd *cobra.Command, store *history.Store, dtcs []obd.DTC, at time.Time) error {
	newCodes, err := store.Record(dtcs, at)
	if err != nil {
		return errors.Wrap(err, "recording trouble codes")
	}
	if !quiet {
		for _, code := range newCodes {
			fmt.Fprintf(cmd.OutOrStdout(), "first time seeing %s\n", code)
		}
	}
	return nil
}
