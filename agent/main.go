// dcom-agent reports modem events to the control plane. Reconnect scripts
// call it after a modem comes back with a new public address:
//
//	dcom-agent rotate dcom1 27.72.1.11
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ngojclee/proxy-farm-system/agent/client"
)

func getControlPlaneURL() string {
	if u := os.Getenv("CONTROL_PLANE_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var server string
	var verbose bool

	flagSet := pflag.NewFlagSet("dcom-agent", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", getControlPlaneURL(), "control plane base URL")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log retries and debug output")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(server, logger)

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(flagSet)
		return errors.New("missing command")
	}

	command, params := rest[0], rest[1:]
	switch command {
	case "rotate":
		if len(params) != 2 {
			return errors.New("usage: dcom-agent rotate <dcom_id> <new_ip>")
		}
		result, err := c.Rotate(ctx, params[0], params[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s -> %s\n", params[0], result.OldAddress, result.NewAddress)
		if result.Notification.ActionRequired {
			fmt.Printf("notified %d users: %s\n", len(result.AffectedUsers), strings.Join(result.AffectedUsers, ", "))
		}

	case "refresh":
		count, err := c.Refresh(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d devices registered\n", count)

	case "assign":
		if len(params) != 2 {
			return errors.New("usage: dcom-agent assign <username> <dcom_id>")
		}
		if err := c.Assign(ctx, params[0], params[1]); err != nil {
			return err
		}
		fmt.Printf("%s assigned to %s\n", params[0], params[1])

	case "unassign":
		if len(params) != 1 {
			return errors.New("usage: dcom-agent unassign <username>")
		}
		if err := c.Unassign(ctx, params[0]); err != nil {
			return err
		}
		fmt.Printf("%s unassigned\n", params[0])

	case "route":
		if len(params) != 1 {
			return errors.New("usage: dcom-agent route <username>")
		}
		route, err := c.Route(ctx, params[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s via %s (%s, %s)\n", route.Username, route.Mode, route.DeviceName, route.Interface, route.PublicAddress)

	default:
		printHelp(flagSet)
		return fmt.Errorf("unknown command %q", command)
	}

	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Usage: dcom-agent [flags] <command> [args]

Commands:
  rotate <dcom_id> <new_ip>     record a public address rotation
  refresh                       rediscover the device inventory
  assign <username> <dcom_id>   bind a user to a device
  unassign <username>           remove a user's binding
  route <username>              show the uplink serving a user

Flags:
%s`, flagSet.FlagUsages())
}
