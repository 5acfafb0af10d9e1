package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gavinwade12/motodiag/internal/telemetry"
	"github.com/gavinwade12/motodiag/protocols/obd"
)

var logFileFormat string
var publishMQTT bool

func init() {
	monitorCmd.Flags().StringVar(&logFileFormat, "log", "", "Log readings to a CSV file. Variables can be injected using the format {{variableName}}. Supported variables: brand, timestamp. Example: {{brand}}-{{timestamp}}.csv")
	monitorCmd.Flags().BoolVar(&publishMQTT, "publish", false, "Publish readings and trouble codes to the configured MQTT broker")

	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:          "monitor",
	Short:        "Poll live parameters until interrupted, then scan for trouble codes.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		conn, err := openConnection(ctx, cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		stdOut := cmd.OutOrStdout()
		imperial := viper.GetBool(imperialSettingName)
		cmds := obd.LiveCommands

		var logFile io.Writer
		if logFileFormat != "" {
			name := logFileName(logFileFormat, viper.GetString(brandSettingName), time.Now())
			if !quiet {
				fmt.Fprintf(stdOut, "logging to file: %s\n", name)
			}
			f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
			if err != nil {
				return errors.Wrap(err, "opening file for logging")
			}
			defer f.Close()

			if _, err = fmt.Fprintln(f, csvHeader(cmds, imperial)); err != nil {
				return errors.Wrap(err, "writing header line to log file")
			}
			logFile = f
		}

		var pub *telemetry.Publisher
		if publishMQTT {
			var cfg telemetry.Config
			if err := viper.UnmarshalKey("mqtt", &cfg); err != nil {
				return errors.Wrap(err, "reading mqtt settings")
			}
			pub = telemetry.NewPublisher(cfg, obdLogger(cmd))
			if err := pub.Connect(); err != nil {
				return err
			}
			defer pub.Close()
		}

		readings, err := obd.PollingSession(ctx, conn, cmds, viper.GetDuration(intervalSettingName), obdLogger(cmd))
		if err != nil {
			return errors.Wrap(err, "starting polling session")
		}
		if !quiet {
			fmt.Fprintln(stdOut, "polling live data, press Ctrl+C to stop and scan for trouble codes")
		}

		for r := range readings {
			lines := make([]string, 0, len(cmds))
			for _, c := range cmds {
				lines = append(lines, formatLine(c, r.Values[c.Name], imperial))
			}
			fmt.Fprintln(stdOut, strings.Join(lines, " | "))

			if logFile != nil {
				if _, err := fmt.Fprintln(logFile, csvRow(cmds, r, imperial)); err != nil {
					return errors.Wrap(err, "writing reading to log file")
				}
			}
			if pub != nil {
				if err := pub.PublishReading(r); err != nil {
					obdLogger(cmd).Debugf("%v", err)
				}
			}
		}
		if ctx.Err() == nil {
			return errors.New("polling stopped after repeated query errors")
		}

		// the session context is done, so the final scan gets its own
		scanCtx, scanCancel := context.WithTimeout(context.Background(), viper.GetDuration(timeoutSettingName))
		defer scanCancel()

		fmt.Fprintln(stdOut)
		dtcs, err := scanDTCs(scanCtx, cmd, conn)
		if err != nil {
			return err
		}
		if pub != nil {
			if err = pub.PublishDTCs(dtcs, time.Now()); err != nil {
				return errors.Wrap(err, "publishing trouble codes")
			}
		}
		return nil
	},
}
