package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusAddr string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the display loop status of a running wall",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "base URL of the wall")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw JSON")
	rootCmd.AddCommand(statusCmd)
}

type wallStatus struct {
	State      string  `json:"state"`
	FPS        float64 `json:"fps"`
	TargetFPS  int     `json:"target_fps"`
	Brightness float64 `json:"brightness"`
	QueueDepth int     `json:"queue_depth"`
	Generation uint64  `json:"generation"`
	SinkMode   string  `json:"sink_mode"`
	Rendered   uint64  `json:"rendered"`
	Dropped    uint64  `json:"dropped"`
	Mismatched uint64  `json:"mismatched"`
	Skipped    uint64  `json:"skipped"`
	SinkErrors uint64  `json:"sink_errors"`
	Degraded   bool    `json:"degraded"`
	LastTickMS float64 `json:"last_tick_ms"`
	Test       string  `json:"test_pattern"`
	Canvas     *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
		LEDs   int `json:"leds"`
	} `json:"canvas"`
	Receivers []struct {
		Source   string            `json:"source"`
		Accepted uint64            `json:"accepted"`
		Evicted  uint64            `json:"evicted"`
		Rejected map[string]uint64 `json:"rejected"`
	} `json:"receivers"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	res, err := client.Get(strings.TrimSuffix(statusAddr, "/") + "/status")
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", statusAddr, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("status: %s", res.Status)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		_, err = out.Write(b)
		return err
	}
	var st wallStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if st.Degraded {
		failure(out, "wall %s, output degraded", st.State)
	} else {
		success(out, "wall %s", st.State)
	}
	field(out, "generation", st.Generation)
	if st.Canvas != nil {
		field(out, "canvas", fmt.Sprintf("%dx%d (%d LEDs)", st.Canvas.Width, st.Canvas.Height, st.Canvas.LEDs))
	}
	field(out, "sink", st.SinkMode)
	field(out, "fps", fmt.Sprintf("%.1f / %d", st.FPS, st.TargetFPS))
	field(out, "brightness", st.Brightness)
	field(out, "queue depth", st.QueueDepth)
	field(out, "rendered / dropped", fmt.Sprintf("%d / %d", st.Rendered, st.Dropped))
	field(out, "mismatched / skipped", fmt.Sprintf("%d / %d", st.Mismatched, st.Skipped))
	field(out, "last tick", fmt.Sprintf("%.2fms", st.LastTickMS))
	if st.SinkErrors > 0 {
		yellow.Fprintf(out, "  %d sink errors\n", st.SinkErrors)
	}
	if st.Test != "" {
		field(out, "test pattern", st.Test)
	}
	for _, r := range st.Receivers {
		rejected := uint64(0)
		for _, n := range r.Rejected {
			rejected += n
		}
		field(out, "source "+r.Source, fmt.Sprintf("%d accepted, %d evicted, %d rejected", r.Accepted, r.Evicted, rejected))
	}
	return nil
}
