package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mcwire/internal/config"
	"mcwire/internal/store"
	boltstore "mcwire/internal/store/bolt"
)

func playersCmd(rf *rootFlags) *cobra.Command {
	var (
		dataDir string
		forget  string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "players",
		Short: "List players recorded by the server",
		Long: `List every player that completed login on this server, most recently seen
first. The server must not be running: the player database is locked
while it is open.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rf.cfg.Server.DataDir
			if cmd.Flags().Changed("data-dir") {
				dir = config.ExpandHome(dataDir)
			}
			db, err := boltstore.Open(filepath.Join(dir, "players.db"))
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer db.Close()
			players := store.NewPlayers(db)

			if forget != "" {
				id, err := uuid.Parse(forget)
				if err != nil {
					return fmt.Errorf("--forget: %w", err)
				}
				if err := players.Forget(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Forgot %s\n", id)
				return nil
			}

			list, err := players.List()
			if err != nil {
				return err
			}
			if wantJSON(asJSON) {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			printPlayers(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	cmd.Flags().StringVar(&forget, "forget", "", "delete the record with this UUID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON even on a terminal")

	return cmd
}

func printPlayers(w io.Writer, list []store.Player) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No players recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tUUID\tPROTOCOL\tLOGINS\tLAST SEEN\tLAST ADDRESS")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			p.Name, p.UUID, p.Protocol, p.Logins, p.LastSeen.Local().Format("2006-01-02 15:04:05"), p.LastAddr)
	}
	tw.Flush()
}
