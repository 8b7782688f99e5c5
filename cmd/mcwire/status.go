package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mcwire/internal/client"
	"mcwire/internal/protocol"
)

type statusReport struct {
	Address   string                `json:"address"`
	LatencyMS float64               `json:"latency_ms"`
	Status    protocol.ServerStatus `json:"status"`
}

func statusCmd(rf *rootFlags) *cobra.Command {
	var (
		versionName string
		asJSON      bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status [host:port]",
		Short: "Query a server's status and ping",
		Long: `Send a server list ping: handshake into the status state, request the
status document and time a ping round trip.

Output is a short summary on a terminal and JSON otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := "localhost:25565"
			if len(args) == 1 {
				addr = args[0]
			}
			v, err := protocol.ParseVersion(versionName)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, latency, err := client.Status(ctx, addr, client.Options{
				Version:   v,
				Transport: rf.transportOptions(),
			})
			if err != nil {
				return err
			}

			report := statusReport{
				Address:   addr,
				LatencyMS: float64(latency.Microseconds()) / 1000,
				Status:    st,
			}
			if wantJSON(asJSON) {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&versionName, "protocol", protocol.Latest.String(), "protocol version sent in the handshake")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON even on a terminal")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline")

	return cmd
}

func printStatus(w io.Writer, r statusReport) {
	st := r.Status
	fmt.Fprintf(w, "%s\n", r.Address)
	fmt.Fprintf(w, "  MOTD:     %s\n", st.Description.Text)
	fmt.Fprintf(w, "  Version:  %s (protocol %d)\n", st.Version.Name, st.Version.Protocol)
	fmt.Fprintf(w, "  Players:  %d/%d\n", st.Players.Online, st.Players.Max)
	for _, p := range st.Players.Sample {
		fmt.Fprintf(w, "            %-16s %s\n", p.Name, p.ID)
	}
	fmt.Fprintf(w, "  Latency:  %.1f ms\n", r.LatencyMS)
}
