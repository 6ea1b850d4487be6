package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/discovery"
	"github.com/BioHazard786/Warpcall/internal/roomid"
	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/ui"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a room and wait for someone to join",
	Long: `Create a new room, print its share link and wait in it for a peer.

Examples:
  warpcall create
  warpcall create --video camera.ivf --audio mic.ogg
  warpcall create --discover`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		id, err := roomid.New()
		if err != nil {
			return session.NewError("create room", err)
		}

		fmt.Println()
		fmt.Println(ui.NewRoomInfo(id, cfg.GetRoomLink(id)).View())
		fmt.Println()

		return runCall(cmd.Context(), cfg, id)
	},
}

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Join a room and start the call",
	Long: `Join an existing room by id or share link.

Examples:
  warpcall join kitten-waffle-luna-x7k2qp
  warpcall join https://warpcall.example.com/r/kitten-waffle-luna-x7k2qp
  warpcall join kitten-waffle-luna-x7k2qp --relay --record ./calls`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runCall(cmd.Context(), cfg, id)
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List signaling servers on the local network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := discovery.NewBrowser()
		if err != nil {
			return session.NewError("browse", err)
		}
		return listServers(cmd.Context(), b)
	},
}

func listServers(ctx context.Context, b *discovery.Browser) error {
	s := ui.NewWaitingSpinner("Browsing the local network...")
	s.Start()
	servers, err := b.Browse(ctx)
	s.Stop()
	if err != nil {
		return session.NewError("browse", err)
	}

	rows := make([]ui.ServerRow, 0, len(servers))
	for _, srv := range servers {
		rows = append(rows, ui.ServerRow{Name: srv.Instance, URL: srv.URL(), Version: srv.Text["version"]})
	}
	fmt.Println(ui.ServersView(rows))
	return nil
}

func init() {
	rootCmd.AddCommand(createCmd, joinCmd, serversCmd)
}
