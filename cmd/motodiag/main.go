package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gavinwade12/motodiag/internal/history"
	"github.com/gavinwade12/motodiag/protocols/obd"
)

const (
	modeSettingName        = "mode"
	addressSettingName     = "address"
	timeoutSettingName     = "timeout"
	brandSettingName       = "brand"
	dtcFileSettingName     = "dtcFile"
	historyFileSettingName = "historyFile"
	intervalSettingName    = "interval"
	imperialSettingName    = "imperial"
)

var configFile string
var mode string
var address string
var dtcFile string
var historyFile string
var quiet bool
var verbose bool

func init() {
	cobra.OnInitialize(func() {
		initConfig()
		postInitCommands(rootCmd.Commands())
	})

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $HOME/.motodiag.yaml)")
	rootCmd.PersistentFlags().StringVar(&mode, modeSettingName, "", "connection mode: simulator, wifi, bluetooth or serial")
	rootCmd.PersistentFlags().StringVar(&address, addressSettingName, "", "adapter address. Example: tcp://192.168.0.10:35000 or /dev/rfcomm0")
	rootCmd.PersistentFlags().StringVar(&dtcFile, dtcFileSettingName, "", "trouble code catalog (.json or .yaml)")
	rootCmd.PersistentFlags().StringVar(&historyFile, historyFileSettingName, "", "trouble code history database")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "quiet all log output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "provide verbose output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:           "motodiag",
	Short:         "A CLI for reading live data and trouble codes from a motorcycle ECU over OBD-II.",
	SilenceErrors: true,
}

func setDefaults(home string) {
	viper.SetDefault(modeSettingName, string(obd.ModeSimulator))
	viper.SetDefault(addressSettingName, obd.DefaultAddress)
	viper.SetDefault(timeoutSettingName, obd.ConnectionReadTimeout.String())
	viper.SetDefault(brandSettingName, "Honda")
	viper.SetDefault(dtcFileSettingName, "dtc_codes.json")
	viper.SetDefault(historyFileSettingName, filepath.Join(home, ".motodiag.db"))
	viper.SetDefault(intervalSettingName, obd.DefaultPollInterval.String())
	viper.SetDefault(imperialSettingName, false)

	viper.SetDefault("simulator.handshake", obd.DefaultHandshakeDelay.String())
	viper.SetDefault("simulator.faultProbability", obd.DefaultFaultProbability)
	viper.SetDefault("simulator.minFaults", obd.DefaultMinFaults)
	viper.SetDefault("simulator.maxFaults", obd.DefaultMaxFaults)
}

func initConfig() {
	home, err := homedir.Dir()
	if err != nil {
		log.Fatalf("finding home directory: %v\n", err)
	}
	if err = loadConfig(configFile, home); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads file, or $HOME/.motodiag.yaml when file is empty, and
// creates it with the defaults when it doesn't exist.
func loadConfig(file, home string) error {
	setDefaults(home)

	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.AddConfigPath(home)
		viper.SetConfigName(".motodiag")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("motodiag")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
		return errors.Wrap(err, "reading config file")
	}

	if file != "" {
		err = viper.SafeWriteConfigAs(file)
	} else {
		err = viper.SafeWriteConfig()
	}
	return errors.Wrap(err, "creating config file")
}

func postInitCommands(commands []*cobra.Command) {
	for _, cmd := range commands {
		presetRequiredFlags(cmd)
		if cmd.HasSubCommands() {
			postInitCommands(cmd.Commands())
		}
	}
}

func presetRequiredFlags(cmd *cobra.Command) {
	viper.BindPFlags(cmd.Flags())
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if viper.IsSet(f.Name) && viper.GetString(f.Name) != "" {
			cmd.Flags().Set(f.Name, viper.GetString(f.Name))
		}
	})
}

func obdLogger(cmd *cobra.Command) obd.Logger {
	if !verbose {
		return obd.NopLogger
	}
	return obd.DefaultLogger(cmd.OutOrStdout())
}

func connectionConfig(l obd.Logger) (obd.ConnectionConfig, error) {
	m, err := obd.ParseMode(viper.GetString(modeSettingName))
	if err != nil {
		return obd.ConnectionConfig{}, err
	}

	catalog := obd.LoadDTCCatalog(viper.GetString(dtcFileSettingName), l)

	return obd.ConnectionConfig{
		Mode:      m,
		Address:   viper.GetString(addressSettingName),
		Timeout:   viper.GetDuration(timeoutSettingName),
		Catalog:   catalog,
		Simulator: simulatorOptions(),
		Logger:    l,
	}, nil
}

// simulatorOptions reads the simulator tuning keys. The defaults are
// registered in setDefaults, so a configured zero means none.
func simulatorOptions() obd.SimulatorOptions {
	opts := obd.SimulatorOptions{
		HandshakeDelay:   viper.GetDuration("simulator.handshake"),
		FaultProbability: viper.GetFloat64("simulator.faultProbability"),
		MinFaults:        viper.GetInt("simulator.minFaults"),
		MaxFaults:        viper.GetInt("simulator.maxFaults"),
	}
	if opts.HandshakeDelay == 0 {
		opts.HandshakeDelay = obd.NoHandshake
	}
	if opts.FaultProbability == 0 {
		opts.FaultProbability = obd.NeverFault
	}
	return opts
}

// openConnection connects using the configured mode, retrying on adapter
// read timeouts until ctx is canceled.
func openConnection(ctx context.Context, cmd *cobra.Command) (obd.Connection, error) {
	l := obdLogger(cmd)
	cfg, err := connectionConfig(l)
	if err != nil {
		return nil, err
	}

	if !quiet {
		warnEmptyCatalog(cmd.OutOrStdout(), viper.GetString(dtcFileSettingName), cfg.Catalog)
		fmt.Fprintf(cmd.OutOrStdout(), "connecting to %s via %s...\n", viper.GetString(brandSettingName), cfg.Mode)
	}

	for {
		conn, err := obd.Open(ctx, cfg)
		if err == nil {
			if !quiet {
				fmt.Fprintln(cmd.OutOrStdout(), "connected")
			}
			return conn, nil
		}
		if !errors.Is(err, obd.ErrReadTimeout) || ctx.Err() != nil {
			return nil, errors.Wrap(err, "opening connection")
		}
		l.Debugf("adapter timed out, retrying: %v", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// warnEmptyCatalog tells the user when no trouble codes could be loaded,
// since fault scans can't report anything without them.
func warnEmptyCatalog(w io.Writer, file string, catalog obd.DTCCatalog) {
	if len(catalog) > 0 {
		return
	}
	fmt.Fprintf(w, "warning: no trouble codes loaded from '%s', fault scans will not report codes\n", file)
}

func openHistory() (*history.Store, error) {
	file := viper.GetString(historyFileSettingName)
	if file == "" {
		return nil, errors.New("the historyFile setting is required")
	}
	return history.Open(file)
}
