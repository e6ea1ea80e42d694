package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/virtadm/virtui/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "override config path (optional)")
	prefsPath := flag.String("prefs", "", "override preferences path (optional)")
	connect := flag.String("connect", "", "hypervisor URI to connect to at startup")
	show := flag.String("show", "", "window to open for --connect: manager, creator, editor, performance, console, summary")
	domain := flag.String("domain", "", "guest name, id, or uuid for guest-scoped --show windows")
	noAutostart := flag.Bool("no-autostart", false, "skip connections marked for autoconnect")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		ConfigPath:  *configPath,
		PrefsPath:   *prefsPath,
		ConnectURI:  *connect,
		ShowWindow:  *show,
		Domain:      *domain,
		NoAutostart: *noAutostart,
		Debug:       *debug,
	}

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "virtui: %v\n", err)
		return 1
	}
	return 0
}
