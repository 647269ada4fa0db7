package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/grantmcdermott/jgd/errors"
	"github.com/grantmcdermott/jgd/internal/config"
	"github.com/grantmcdermott/jgd/internal/httpserver"
	"github.com/grantmcdermott/jgd/internal/socketuri"
)

var (
	flagSocketPath string
	flagHTTPBind   string
	flagTCP        string
	flagWebDir     string
)

// addServeFlags installs the broker's flags on cmd. -tcp takes an optional
// value (bare `-tcp` means "0", auto-assign) via pflag's NoOptDefVal, the
// same trick cobra-based CLIs use for optional-argument flags.
func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagSocketPath, "socket", "", "unix-socket path override for the producer listener")
	cmd.Flags().StringVar(&flagHTTPBind, "http", "", "HTTP bind address (default 127.0.0.1:0)")
	cmd.Flags().StringVar(&flagTCP, "tcp", "", "use TCP for producers, optionally specifying a port (0 = auto-assign)")
	cmd.Flags().Lookup("tcp").NoOptDefVal = "0"
	cmd.Flags().StringVar(&flagWebDir, "web", "", "serve static assets from this directory instead of the bundled default")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	overrides := config.FlagOverrides{}
	if cmd.Flags().Changed("socket") {
		overrides.SocketPath = &flagSocketPath
	}
	if cmd.Flags().Changed("http") {
		overrides.HTTPBind = &flagHTTPBind
	}
	if cmd.Flags().Changed("tcp") {
		port, err := strconv.Atoi(flagTCP)
		if err != nil {
			return errors.Wrapf(errors.ErrMalformedURI, "invalid -tcp port %q", flagTCP)
		}
		overrides.TCPPort = &port
	}
	if cmd.Flags().Changed("web") {
		overrides.WebDir = &flagWebDir
	}
	config.ApplyFlags(cfg, overrides)

	producerAddr, err := resolveProducerAddr(cfg)
	if err != nil {
		return err
	}

	httpBind := cfg.HTTPBind
	if httpBind == "" {
		httpBind = "127.0.0.1:0"
	}

	sup, err := httpserver.New(httpserver.Options{
		ProducerAddr:     producerAddr,
		HTTPBind:         httpBind,
		WebDir:           cfg.WebDir,
		DiscoveryEnabled: cfg.DiscoveryEnable,
	})
	if err != nil {
		if errors.Is(err, errors.ErrSocketInUse) {
			pterm.Error.Printfln("socket already in use: %v", err)
			return err
		}
		return errors.Wrap(err, "failed to start broker")
	}

	sup.WriteDiscovery()

	// The readiness block is a literal contract producers parse; it is
	// printed with fmt, never pterm, so no styling touches it.
	fmt.Print(sup.ReadinessBanner())

	sup.AwaitShutdownSignal()
	return nil
}

// defaultUnixSocketPath places the socket under TMPDIR/TEMP/TMP (spec
// §6.4), falling back to os.TempDir()'s own environment-aware resolution.
func defaultUnixSocketPath() string {
	dir := os.TempDir()
	if runtime.GOOS != "windows" {
		if v := os.Getenv("TMPDIR"); v != "" {
			dir = v
		}
	} else {
		if v := os.Getenv("TEMP"); v != "" {
			dir = v
		} else if v := os.Getenv("TMP"); v != "" {
			dir = v
		}
	}
	return filepath.Join(dir, "jgd.sock")
}

// resolveProducerAddr builds the producer SocketAddress from config,
// following the per-OS default transport when nothing was overridden.
func resolveProducerAddr(cfg *config.Config) (socketuri.SocketAddress, error) {
	switch cfg.Transport {
	case "tcp":
		return socketuri.SocketAddress{Scheme: socketuri.SchemeTCP, Host: "127.0.0.1", Port: cfg.TCPPort}, nil
	case "unix":
		path := cfg.SocketPath
		if path == "" {
			path = defaultUnixSocketPath()
		}
		return socketuri.SocketAddress{Scheme: socketuri.SchemeUnix, Path: path}, nil
	case "npipe":
		return socketuri.SocketAddress{Scheme: socketuri.SchemeNPipe, Name: "jgd"}, nil
	default:
		return socketuri.SocketAddress{}, errors.Wrapf(errors.ErrMalformedURI, "unknown transport %q", cfg.Transport)
	}
}
