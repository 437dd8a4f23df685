package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreman2200/ledwall/internal/config"
	"github.com/coreman2200/ledwall/internal/layout"
	"github.com/coreman2200/ledwall/internal/topology"
)

var validateCmd = &cobra.Command{
	Use:   "validate [TOPOLOGY_FILE]",
	Short: "Check a topology document and report its canvas",
	Long: `Validate a topology document (YAML, or JSON for a .json file) and build
its mapping table. Without an argument the inline topology of the config
file is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	raw, src, err := topologySource(args)
	if err != nil {
		return err
	}

	top, err := topology.Validate(raw)
	if err != nil {
		var verr *topology.ValidationError
		if errors.As(err, &verr) {
			failure(out, "%s: rule %s", src, verr.Rule)
			field(out, "detail", verr.Detail)
		}
		return err
	}
	tbl, err := layout.Build(top)
	if err != nil {
		failure(out, "%s: mapping failed", src)
		return err
	}

	success(out, "%s is valid", src)
	field(out, "grid", fmt.Sprintf("%dx%d panels of %dx%d", top.Grid.GridWidth, top.Grid.GridHeight, top.Grid.PanelWidth, top.Grid.PanelHeight))
	field(out, "wiring", top.Grid.Wiring)
	field(out, "canvas", fmt.Sprintf("%dx%d", tbl.Width(), tbl.Height()))
	field(out, "leds", tbl.LEDCount())
	return nil
}

func topologySource(args []string) (*topology.Raw, string, error) {
	if len(args) == 1 {
		b, err := os.ReadFile(args[0])
		if err != nil {
			return nil, "", err
		}
		raw, err := config.Decode(args[0], b)
		return raw, args[0], err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	if cfg.Topology == nil {
		return nil, "", fmt.Errorf("%s has no inline topology", configPath)
	}
	return cfg.Topology, configPath, nil
}
