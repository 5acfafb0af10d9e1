package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gavinwade12/motodiag/protocols/obd"
)

func init() {
	settingsCmd.AddCommand(showSettingsCmd)
	settingsCmd.AddCommand(setSettingCmd)

	rootCmd.AddCommand(settingsCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View and change the persisted settings",
}

var showSettingsCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the current settings",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := yaml.Marshal(viper.AllSettings())
		if err != nil {
			return errors.Wrap(err, "encoding settings")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", viper.ConfigFileUsed(), b)
		return nil
	},
}

var setSettingCmd = &cobra.Command{
	Use:          "set <key> <value>",
	Short:        "Change a setting and write it to the config file",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val, err := saveSetting(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, val)
		return nil
	},
}

// saveSetting validates a setting and writes it to the config file in use.
func saveSetting(key, value string) (string, interface{}, error) {
	key, val, err := parseSetting(key, value)
	if err != nil {
		return "", nil, err
	}

	viper.Set(key, val)
	if err = viper.WriteConfig(); err != nil {
		return "", nil, errors.Wrap(err, "writing config file")
	}
	return key, val, nil
}

type settingKind int

const (
	stringSetting settingKind = iota
	modeSetting
	durationSetting
	floatSetting
	intSetting
	boolSetting
)

var settingKinds = map[string]settingKind{
	modeSettingName:              modeSetting,
	addressSettingName:           stringSetting,
	timeoutSettingName:           durationSetting,
	brandSettingName:             stringSetting,
	dtcFileSettingName:           stringSetting,
	historyFileSettingName:       stringSetting,
	intervalSettingName:          durationSetting,
	imperialSettingName:          boolSetting,
	"simulator.handshake":        durationSetting,
	"simulator.faultProbability": floatSetting,
	"simulator.minFaults":        intSetting,
	"simulator.maxFaults":        intSetting,
	"mqtt.broker":                stringSetting,
	"mqtt.clientId":              stringSetting,
	"mqtt.topicPrefix":           stringSetting,
	"mqtt.username":              stringSetting,
	"mqtt.password":              stringSetting,
}

// parseSetting validates a key and converts its value to the type stored
// in the config file. Keys are matched case-insensitively.
func parseSetting(key, value string) (string, interface{}, error) {
	var kind settingKind
	found := false
	for k, sk := range settingKinds {
		if strings.EqualFold(k, key) {
			key, kind, found = k, sk, true
			break
		}
	}
	if !found {
		return "", nil, errors.Errorf("unknown setting '%s', expected one of: %s", key, strings.Join(settingNames(), ", "))
	}

	switch kind {
	case modeSetting:
		m, err := obd.ParseMode(value)
		if err != nil {
			return "", nil, err
		}
		return key, string(m), nil
	case durationSetting:
		d, err := time.ParseDuration(value)
		if err != nil {
			return "", nil, errors.Wrapf(err, "parsing %s", key)
		}
		return key, d.String(), nil
	case floatSetting:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", nil, errors.Wrapf(err, "parsing %s", key)
		}
		if f < 0 || f > 1 {
			return "", nil, errors.Errorf("%s must be between 0 and 1", key)
		}
		return key, f, nil
	case intSetting:
		i, err := strconv.Atoi(value)
		if err != nil {
			return "", nil, errors.Wrapf(err, "parsing %s", key)
		}
		if i < 0 {
			return "", nil, errors.Errorf("%s must not be negative", key)
		}
		return key, i, nil
	case boolSetting:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", nil, errors.Wrapf(err, "parsing %s", key)
		}
		return key, b, nil
	}
	return key, value, nil
}

func settingNames() []string {
	names := make([]string, 0, len(settingKinds))
	for k := range settingKinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
