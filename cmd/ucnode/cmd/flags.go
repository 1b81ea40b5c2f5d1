package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

// runFlags holds the --id/--config/--hub surface described in §6's
// EXTERNAL INTERFACES plus --base-delta and --metrics-addr. There is no
// --listen flag: the peer link binds to the self node's host:port. It
// follows the teacher's per-concern *Flags
// struct + addXFlags(cmd) registration pattern.
type runFlags struct {
	ID          uint32
	ConfigFile  string
	HubFile     string
	BaseDelta   time.Duration
	MetricsAddr string
}

func (f *runFlags) addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32Var(&f.ID, "id", 0, "this process's id, resolved against --config (required)")
	cmd.Flags().StringVar(&f.ConfigFile, "config", "peers.json", "path to the peers configuration file")
	cmd.Flags().StringVar(&f.HubFile, "hub", "hub.json", "path to the hub descriptor file")
	cmd.Flags().DurationVar(&f.BaseDelta, "base-delta", 500*time.Millisecond, "EPFD's initial heartbeat timeout")
	cmd.Flags().StringVar(&f.MetricsAddr, "metrics-addr", ":9464", "address the Prometheus /metrics endpoint listens on")
	_ = cmd.MarkFlagRequired("id")
}
