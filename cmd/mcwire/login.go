package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mcwire/internal/client"
	"mcwire/internal/protocol"
	"mcwire/internal/wire"
)

// packetEvent is one line of login output.
type packetEvent struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	ID      int32     `json:"id,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Bytes   int       `json:"bytes,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

func loginCmd(rf *rootFlags) *cobra.Command {
	var (
		name        string
		versionName string
		brand       string
		timeout     time.Duration
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "login [host:port]",
		Short: "Log in to a server and print what it sends during play",
		Long: `Log in with an offline-mode name, negotiating encryption and compression
as the server asks, then stay in the play state printing every packet the
server sends until it disconnects or the command is interrupted.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loginCtx, cancel := context.WithTimeout(ctx, timeout)
			sess, err := client.Login(loginCtx, addr, name, client.Options{
				Version:   v,
				Transport: rf.transportOptions(),
			})
			cancel()
			if err != nil {
				return err
			}
			defer sess.Close()

			out := cmd.OutOrStdout()
			jsonOut := wantJSON(asJSON)
			if !jsonOut {
				fmt.Fprintf(out, "Logged in to %s as %s (%s)\n", addr, sess.Name, sess.UUID)
			}

			if brand != "" {
				if err := sess.Send(brandMessage(brand)); err != nil {
					return err
				}
			}
			return printPackets(ctx, out, sess, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "mcwire", "player name")
	cmd.Flags().StringVar(&versionName, "protocol", protocol.Latest.String(), "protocol version sent in the handshake")
	cmd.Flags().StringVar(&brand, "brand", "mcwire", `client brand sent on "minecraft:brand" (empty = none)`)
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "deadline for completing login")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines even on a terminal")

	return cmd
}

func brandMessage(brand string) *protocol.PluginMessage {
	var b wire.Buffer
	b.WriteProtocolString(brand, 32767)
	return &protocol.PluginMessage{Channel: "minecraft:brand", Data: b.Bytes()}
}

func printPackets(ctx context.Context, out io.Writer, sess *client.Session, jsonOut bool) error {
	for {
		p, err := sess.Next(ctx)
		var dc *client.DisconnectError
		switch {
		case errors.As(err, &dc):
			emit(out, jsonOut, packetEvent{Time: time.Now(), Type: "disconnect", Reason: dc.Reason})
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}
		emit(out, jsonOut, describe(p))
	}
}

func describe(p protocol.Packet) packetEvent {
	ev := packetEvent{Time: time.Now(), Type: fmt.Sprintf("%T", p)}
	switch p := p.(type) {
	case *protocol.ClientPluginMessage:
		ev.Type = "plugin_message"
		ev.Channel = p.Channel
		ev.Bytes = len(p.Data)
	case *protocol.Unknown:
		ev.Type = "unknown"
		ev.ID = p.ID
		ev.Bytes = len(p.Data)
	}
	return ev
}

func emit(out io.Writer, jsonOut bool, ev packetEvent) {
	if jsonOut {
		writeJSONLine(out, ev)
		return
	}
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Type {
	case "disconnect":
		fmt.Fprintf(out, "%s disconnected: %s\n", ts, ev.Reason)
	case "plugin_message":
		fmt.Fprintf(out, "%s plugin message %s (%d bytes)\n", ts, ev.Channel, ev.Bytes)
	case "unknown":
		fmt.Fprintf(out, "%s packet 0x%02X (%d bytes)\n", ts, ev.ID, ev.Bytes)
	default:
		fmt.Fprintf(out, "%s %s\n", ts, ev.Type)
	}
}
