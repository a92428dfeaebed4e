// ABOUTME: Operator CLI for the biosignal acquisition daemon
// ABOUTME: Subcommands status, start, stop, snapshot, and sessions over HTTP
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/harper/biosignal-recorder/internal/infrastructure/client"
	"github.com/harper/biosignal-recorder/internal/ui"
)

const usage = `usage: biosignalctl [-addr URL] <command> [flags]

commands:
  status                       show the acquisition state
  start [-mac ADDR] [-rate N]  start (or restart) acquisition
  stop                         stop acquisition and flush pending rows
  snapshot                     summarize the live window
  sessions [-limit N]          list recorded sessions
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("biosignalctl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	addr := global.String("addr", envOr("BIOSIGNAL_ADDR", client.DefaultAddr), "daemon address")
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}

	rest := global.Args()
	if len(rest) == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}

	c := client.New(*addr)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.RenderStatus(st))

	case "start":
		fs := flag.NewFlagSet("start", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		mac := fs.String("mac", "", "device MAC address")
		rate := fs.Int("rate", 0, "sampling rate in Hz")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		st, err := c.Start(ctx, *mac, *rate)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.RenderStatus(st))

	case "stop":
		st, err := c.Stop(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.RenderStatus(st))

	case "snapshot":
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.RenderSnapshot(snap))

	case "sessions":
		fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		limit := fs.Int("limit", 20, "number of sessions")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		resp, err := c.Sessions(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.RenderSessions(resp.Sessions))

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
