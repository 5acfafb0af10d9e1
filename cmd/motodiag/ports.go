package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.bug.st/serial/enumerator"

	"github.com/gavinwade12/motodiag/protocols/obd"
)

func init() {
	portsCmd.AddCommand(listPortsCmd)
	portsCmd.AddCommand(selectPortCmd)

	rootCmd.AddCommand(portsCmd)
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Manage the serial and Bluetooth ports used to reach the adapter",
}

var listPortsCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available ports on the host",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := availablePorts()
		if err != nil {
			return err
		}

		listPorts(cmd.OutOrStdout(), ports, viper.GetString(addressSettingName))
		return nil
	},
}

func listPorts(w io.Writer, ports []serialPort, selected string) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "no ports found")
		return
	}
	for i, p := range ports {
		fmt.Fprintf(w, "[%d]:\tPortName: '%s'\n\tProduct: %s\n\tVID/PID: %s/%s\n\tUSB: %v\n\tSelected: %v\n",
			i, p.PortName, p.Product, p.VendorID, p.ProductID, p.IsUSB, p.PortName == selected)
	}
}

var selectPortCmd = &cobra.Command{
	Use:          "set",
	Short:        "Set the port to use in the config file. The mode is switched to serial unless it is bluetooth.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := availablePorts()
		if err != nil {
			return err
		}
		listPorts(cmd.OutOrStdout(), ports, viper.GetString(addressSettingName))
		if len(ports) == 0 {
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), "Port (index): ")

		input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !(err == io.EOF && input != "") {
			return errors.Wrap(err, "reading selection")
		}

		i, err := parseSelection(input, len(ports))
		if err != nil {
			return err
		}

		portName := ports[i].PortName
		viper.Set(addressSettingName, portName)
		if m, _ := obd.ParseMode(viper.GetString(modeSettingName)); m != obd.ModeBluetooth {
			viper.Set(modeSettingName, string(obd.ModeSerial))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected '%s'\n", portName)

		return viper.WriteConfig()
	},
}

// parseSelection parses a port index typed by the user.
func parseSelection(input string, count int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, errors.Wrap(err, "parsing input as integer")
	}
	if i < 0 || i >= count {
		return 0, errors.New("invalid selection")
	}
	return i, nil
}

type serialPort struct {
	PortName  string
	Product   string
	IsUSB     bool
	VendorID  string
	ProductID string
}

// availablePorts returns all available serial ports on the current host.
func availablePorts() ([]serialPort, error) {
	list, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "listing ports")
	}

	ports := make([]serialPort, len(list))
	for i, p := range list {
		ports[i] = serialPort{
			PortName:  p.Name,
			Product:   p.Product,
			IsUSB:     p.IsUSB,
			VendorID:  p.VID,
			ProductID: p.PID,
		}
	}

	return ports, nil
}
