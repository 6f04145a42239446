// Package cli implements the interactive operator console: live
// peer/room tables, kick, room teardown, log level control, and
// shutdown.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/registry"
	"github.com/gridlight-project/gridlight/internal/util"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	registry *registry.Registry
	shutdown func()
}

// NewCLI creates a new CLI handler. shutdown is invoked by the quit
// command.
func NewCLI(cfg *config.Config, reg *registry.Registry, shutdown func()) *CLI {
	return &CLI{
		cfg:      cfg,
		registry: reg,
		shutdown: shutdown,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nGridlight CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("gridlight> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "rooms", "r":
		c.printRooms()
	case "room":
		return c.printRoomDetail(args)
	case "peers", "p":
		c.printPeers()
	case "peer":
		return c.printPeerDetail(args)
	case "kick":
		return c.cmdKick(args)
	case "destroyroom":
		return c.cmdDestroyRoom(ctx, args)
	case "loglevel":
		return c.cmdLogLevel(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down Gridlight...")
		if c.shutdown != nil {
			c.shutdown()
		}
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Gridlight CLI Commands                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show aggregate server status            ║")
	fmt.Println("║  rooms              List all rooms                          ║")
	fmt.Println("║  room <name>        Show detail for one room                ║")
	fmt.Println("║  peers              List all connected peers                ║")
	fmt.Println("║  peer <id>          Show detail for one peer                ║")
	fmt.Println("║  kick <id>          Disconnect a peer                       ║")
	fmt.Println("║  destroyroom <name> [force]  Tear a room down               ║")
	fmt.Println("║  loglevel <level>   Change the log level                    ║")
	fmt.Println("║  quit               Shutdown Gridlight                      ║")
	fmt.Println("║  help               Show this help message                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays the aggregate server view.
func (c *CLI) printStatus() {
	srv := c.cfg.GetServer()
	cpuUsage, _ := util.GetCPUUsage()

	fmt.Printf("\n  Version:      %s\n", util.Version)
	fmt.Printf("  Listen:       %s:%d\n", srv.ListenHost, srv.ListenPort)
	fmt.Printf("  Peers:        %d / %d\n", c.registry.PeerCount(), srv.MaxConnections)
	fmt.Printf("  Rooms:        %d\n", c.registry.RoomCount())
	fmt.Printf("  CPU Usage:    %.1f%%\n", cpuUsage)
	if mem, err := util.GetMemoryUsage(); err == nil {
		fmt.Printf("  Memory:       %d MB used (%.1f%%)\n", mem.Used, mem.UsedPercent)
	}
	fmt.Println()
}

// printRooms renders the room table.
func (c *CLI) printRooms() {
	rooms := c.registry.Rooms()

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Name", "Players", "Max", "Open", "Visible", "Master", "Cached"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, rm := range rooms {
		info := rm.Info()
		tw.Append([]string{
			info.Name,
			fmt.Sprintf("%d", info.PlayerCount),
			fmt.Sprintf("%d", info.MaxPlayers),
			fmt.Sprintf("%v", info.IsOpen),
			fmt.Sprintf("%v", info.IsVisible),
			fmt.Sprintf("%d", rm.MasterID()),
			fmt.Sprintf("%d", rm.CachedEventCount()),
		})
	}

	tw.Render()
	fmt.Println()
}

// printRoomDetail prints the full view of one room.
func (c *CLI) printRoomDetail(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: room <name>")
	}

	rm, ok := c.registry.Room(args[0])
	if !ok {
		return fmt.Errorf("room %q not found", args[0])
	}

	info := rm.Info()
	stats := rm.Stats()
	fmt.Printf("\n  Room:          %s\n", info.Name)
	fmt.Printf("  Players:       %d / %d\n", info.PlayerCount, info.MaxPlayers)
	fmt.Printf("  Open:          %v\n", info.IsOpen)
	fmt.Printf("  Visible:       %v\n", info.IsVisible)
	fmt.Printf("  Master ID:     %d\n", rm.MasterID())
	fmt.Printf("  Cached Events: %d\n", rm.CachedEventCount())
	fmt.Printf("  Created:       %s\n", rm.CreatedAt().Format(time.RFC3339))
	fmt.Printf("  Joins/Leaves:  %d / %d\n", stats.Joins, stats.Leaves)
	fmt.Printf("  Events:        %d raised, %d sent\n", stats.EventsRaised, stats.EventsSent)

	if ids := rm.MemberIDs(); len(ids) > 0 {
		fmt.Println("  Members:")
		for _, id := range ids {
			if p, ok := c.registry.Peer(id); ok {
				fmt.Printf("    - %d (%s)\n", id, p.Nickname())
			} else {
				fmt.Printf("    - %d\n", id)
			}
		}
	}
	fmt.Println()
	return nil
}

// printPeers renders the peer table.
func (c *CLI) printPeers() {
	peers := c.registry.Peers()

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Remote", "State", "Nickname", "Room", "Master"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range peers {
		roomName := "-"
		if h := p.Room(); h != nil {
			roomName = h.Name()
		}
		tw.Append([]string{
			fmt.Sprintf("%d", p.ID()),
			p.RemoteAddr().String(),
			p.State().String(),
			p.Nickname(),
			roomName,
			fmt.Sprintf("%v", p.IsMaster()),
		})
	}

	tw.Render()
	fmt.Println()
}

// printPeerDetail prints the full view of one peer.
func (c *CLI) printPeerDetail(args []string) error {
	id, err := parseIDArg(args)
	if err != nil {
		return err
	}

	p, ok := c.registry.Peer(id)
	if !ok {
		return fmt.Errorf("peer %d not found", id)
	}

	stats := p.Stats()
	reliable, unreliable := p.SequenceNumbers()
	roomName := "-"
	if h := p.Room(); h != nil {
		roomName = h.Name()
	}

	fmt.Printf("\n  Peer ID:       %d\n", p.ID())
	fmt.Printf("  Remote:        %s\n", p.RemoteAddr())
	fmt.Printf("  State:         %s\n", p.State())
	fmt.Printf("  Authenticated: %v\n", p.Authenticated())
	fmt.Printf("  Nickname:      %s\n", p.Nickname())
	fmt.Printf("  User ID:       %s\n", p.UserID())
	fmt.Printf("  Room:          %s\n", roomName)
	fmt.Printf("  Master:        %v\n", p.IsMaster())
	fmt.Printf("  Connected:     %s\n", p.ConnectedAt().Format(time.RFC3339))
	fmt.Printf("  Last Activity: %s\n", p.LastActivity().Format(time.RFC3339))
	fmt.Printf("  Sequences:     reliable=%d unreliable=%d\n", reliable, unreliable)
	fmt.Printf("  Traffic:       %d B in / %d B out, %d msgs in / %d msgs out\n",
		stats.BytesIn, stats.BytesOut, stats.MessagesIn, stats.MessagesOut)
	fmt.Printf("  Decode Errors: %d\n", stats.DecodeErrors)
	fmt.Println()
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	id, err := parseIDArg(args)
	if err != nil {
		return err
	}

	if !c.registry.KickPeer(id) {
		return fmt.Errorf("peer %d not found", id)
	}
	fmt.Printf("Peer %d kicked\n", id)
	return nil
}

func (c *CLI) cmdDestroyRoom(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: destroyroom <name> [force]")
	}

	force := len(args) > 1 && strings.EqualFold(args[1], "force")
	if err := c.registry.DestroyRoom(ctx, args[0], force); err != nil {
		return err
	}
	fmt.Printf("Room %q destroyed\n", args[0])
	return nil
}

func (c *CLI) cmdLogLevel(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: loglevel <trace|debug|info|warn|error>")
	}

	level, err := zerolog.ParseLevel(strings.ToLower(args[0]))
	if err != nil {
		return fmt.Errorf("unknown log level %q", args[0])
	}

	zerolog.SetGlobalLevel(level)
	log.Info().Str("level", level.String()).Msg("log level changed")
	fmt.Printf("Log level set to %s\n", level)
	return nil
}

func parseIDArg(args []string) (uint16, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("peer id required")
	}
	id, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid peer id: %s", args[0])
	}
	return uint16(id), nil
}
