package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdai-dev/kiosk/internal/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Drive a running daemon through its debug control surface",
	Long: `Drive a running daemon through its debug control surface.

These commands talk to kioskd over HTTP and are meant for bench testing:
simulating a visitor, forcing the mobile app handshake, or holding the
camera open for a preview.`,
}

var debugPresenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Simulate a presence change",
	Args:  cobra.NoArgs,
	RunE:  runDebugPresence,
}

var debugTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Start a session directly",
	Args:  cobra.NoArgs,
	RunE:  runDebugTrigger,
}

var debugAppReadyCmd = &cobra.Command{
	Use:   "app-ready [platform-id]",
	Short: "Force the mobile app handshake for the running session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDebugAppReady,
}

var debugHardwareCmd = &cobra.Command{
	Use:   "hardware [preview|debug] [on|off]",
	Short: "Show the camera request table, or hold/release a camera request",
	Args:  cobra.RangeArgs(0, 2),
	RunE:  runDebugHardware,
}

var debugSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent session outcomes",
	Args:  cobra.NoArgs,
	RunE:  runDebugSessions,
}

var (
	debugAddr         string
	debugAbsent       bool
	debugDistance     int
	debugNoFace       bool
	debugLostTracking bool
	debugLivenessFail bool
	debugLimit        int
)

func init() {
	debugCmd.PersistentFlags().StringVar(&debugAddr, "addr", "", "Control surface address (default is controller.host:controller.port)")

	debugPresenceCmd.Flags().BoolVar(&debugAbsent, "absent", false, "Report the visitor as gone")
	debugPresenceCmd.Flags().IntVar(&debugDistance, "distance", 300, "Distance in millimetres")

	debugAppReadyCmd.Flags().BoolVar(&debugNoFace, "no-face", false, "Simulate a run without a face")
	debugAppReadyCmd.Flags().BoolVar(&debugLostTracking, "lost-tracking", false, "Simulate the face being lost mid-run")
	debugAppReadyCmd.Flags().BoolVar(&debugLivenessFail, "liveness-fail", false, "Simulate every frame failing liveness")

	debugSessionsCmd.Flags().IntVarP(&debugLimit, "limit", "n", 20, "Number of sessions to show")

	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugPresenceCmd)
	debugCmd.AddCommand(debugTriggerCmd)
	debugCmd.AddCommand(debugAppReadyCmd)
	debugCmd.AddCommand(debugHardwareCmd)
	debugCmd.AddCommand(debugSessionsCmd)
}

// controlClient is a thin JSON client for the control surface.
type controlClient struct {
	base string
	http *http.Client
}

func newControlClient() (*controlClient, error) {
	addr := debugAddr
	if addr == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		host := cfg.Controller.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = host + ":" + strconv.Itoa(cfg.Controller.Port)
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &controlClient{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// do sends body (if any) and decodes the JSON reply into out. Non-2xx
// replies are returned as errors carrying the server's message, except for
// the statuses listed in accept.
func (c *controlClient) do(ctx context.Context, method, path string, body, out any, accept ...int) (int, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("kioskd not reachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, status := range accept {
		ok = ok || resp.StatusCode == status
	}
	if !ok {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("invalid reply from kioskd: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func runDebugPresence(cmd *cobra.Command, args []string) error {
	c, err := newControlClient()
	if err != nil {
		return err
	}
	req := map[string]any{"present": !debugAbsent, "distance_mm": debugDistance}
	var reply struct {
		Phase   string `json:"phase"`
		Running bool   `json:"running"`
	}
	if _, err := c.do(cmd.Context(), http.MethodPost, "/debug/presence", req, &reply); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "present=%v phase=%s running=%v\n", !debugAbsent, reply.Phase, reply.Running)
	return nil
}

func runDebugTrigger(cmd *cobra.Command, args []string) error {
	c, err := newControlClient()
	if err != nil {
		return err
	}
	var reply struct {
		Started bool `json:"started"`
	}
	if _, err := c.do(cmd.Context(), http.MethodPost, "/debug/trigger", nil, &reply, http.StatusConflict); err != nil {
		return err
	}
	if reply.Started {
		fmt.Fprintln(cmd.OutOrStdout(), "Session started")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "A session is already in progress")
	}
	return nil
}

func runDebugAppReady(cmd *cobra.Command, args []string) error {
	c, err := newControlClient()
	if err != nil {
		return err
	}
	req := map[string]any{
		"simulate_no_face":       debugNoFace,
		"simulate_lost_tracking": debugLostTracking,
		"simulate_liveness_fail": debugLivenessFail,
	}
	if len(args) > 0 {
		req["platform_id"] = args[0]
	}
	var reply struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if _, err := c.do(cmd.Context(), http.MethodPost, "/debug/app-ready", req, &reply); err != nil {
		return err
	}
	if reply.Acknowledged {
		fmt.Fprintln(cmd.OutOrStdout(), "App-ready delivered")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Session was not waiting for the app; override ignored")
	}
	return nil
}

type hardwareReply struct {
	Active bool              `json:"active"`
	Mode   string            `json:"mode"`
	Counts map[string]uint32 `json:"counts"`
	Total  uint32            `json:"total"`
}

func runDebugHardware(cmd *cobra.Command, args []string) error {
	c, err := newControlClient()
	if err != nil {
		return err
	}

	var reply hardwareReply
	switch len(args) {
	case 0:
		_, err = c.do(cmd.Context(), http.MethodGet, "/debug/hardware", nil, &reply)
	case 2:
		var active bool
		switch args[1] {
		case "on":
			active = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		req := map[string]any{"requester": args[0], "active": active}
		_, err = c.do(cmd.Context(), http.MethodPost, "/debug/hardware", req, &reply)
	default:
		return fmt.Errorf("usage: %s", cmd.Use)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "camera: active=%v mode=%s total=%d\n", reply.Active, reply.Mode, reply.Total)
	for _, name := range slices.Sorted(maps.Keys(reply.Counts)) {
		fmt.Fprintf(out, "  %-16s %d\n", name, reply.Counts[name])
	}
	return nil
}

func runDebugSessions(cmd *cobra.Command, args []string) error {
	c, err := newControlClient()
	if err != nil {
		return err
	}
	var reply struct {
		Sessions []struct {
			ID           string    `json:"id"`
			Outcome      string    `json:"outcome"`
			Message      string    `json:"message"`
			PhaseReached string    `json:"phase_reached"`
			StartedAt    time.Time `json:"started_at"`
			DurationMs   int64     `json:"duration_ms"`
		} `json:"sessions"`
	}
	path := "/debug/sessions?limit=" + strconv.Itoa(debugLimit)
	if _, err := c.do(cmd.Context(), http.MethodGet, path, nil, &reply); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(reply.Sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded")
		return nil
	}
	for _, s := range reply.Sessions {
		line := fmt.Sprintf("%s  %-8.8s  %-16s  %-14s  %6dms",
			s.StartedAt.Local().Format(time.DateTime), s.ID, s.Outcome, s.PhaseReached, s.DurationMs)
		if s.Message != "" {
			line += "  " + s.Message
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
