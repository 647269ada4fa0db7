// Package commands holds the jgd CLI's cobra command tree.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/grantmcdermott/jgd/logger"
)

var jsonLogs bool

// RootCmd is the jgd CLI entry point. Running it with no subcommand starts
// the broker (runServe); there is no separate serve subcommand.
var RootCmd = &cobra.Command{
	Use:   "jgd",
	Short: "jgd - a persistent broker bridging plotting producers and browser viewers",
	Long: `jgd relays plot frames from interactive plotting processes to browser
viewers over NDJSON and WebSocket, and correlates font-metrics requests
between them.

Examples:
  jgd                        # start the broker with default transport
  jgd -tcp 0                 # start the broker on an OS-chosen TCP port
  jgd -socket /tmp/jgd.sock  # start the broker on a specific unix socket
  jgd version                # print build information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verbosity > 0 {
			printVerbosityDiagnostic(verbosity)
		}
		return nil
	},
	RunE: runServe,
}

// printVerbosityDiagnostic echoes what -v's count actually turns on, the
// same "Verbosity level: N" diagnostic the teacher's git-ingest command
// prints when verbosity > 0.
func printVerbosityDiagnostic(verbosity int) {
	cats := logger.EnabledCategories(verbosity)
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, logger.CategoryName(c))
	}
	pterm.Info.Printf("Verbosity level: %d (%s)\n", verbosity, logger.VerbosityDescription(verbosity))
	pterm.Info.Printf("Enabled categories: %s\n", strings.Join(names, ", "))
}

// singleDashLongFlags are the broker's long-named flags that spec §6.3
// requires to also accept a single dash (-socket as well as --socket).
// pflag's single-dash parser only resolves against one-character
// shorthands (parseShortArg indexes f.shorthands by the first rune and
// never falls back to a long-name lookup), so "-socket /tmp/x" would
// otherwise be parsed as the bundled shorthands s, o, c, k, e, t and fail
// with "unknown shorthand flag". Rewriting to "--socket" before cobra ever
// sees the args sidesteps that entirely.
var singleDashLongFlags = []string{"socket", "http", "tcp", "web"}

// normalizeArgs rewrites every "-<longflag>" (and "-<longflag>=value")
// token naming one of singleDashLongFlags to its "--" form, leaving single
// character shorthands (-v, -j) and already-double-dashed flags untouched.
func normalizeArgs(args []string) []string {
	normalized := make([]string, len(args))
	for i, a := range args {
		normalized[i] = normalizeArg(a)
	}
	return normalized
}

func normalizeArg(arg string) string {
	if !strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "--") {
		return arg
	}
	body := arg[1:]
	name := body
	if idx := strings.IndexByte(body, '='); idx >= 0 {
		name = body[:idx]
	}
	for _, f := range singleDashLongFlags {
		if name == f {
			return "-" + arg
		}
	}
	return arg
}

func init() {
	// Diagnostics go to stderr; the readiness banner is the only thing
	// allowed on stdout.
	pterm.SetDefaultOutput(os.Stderr)

	RootCmd.PersistentFlags().CountP("verbose", "v", "increase output verbosity (repeat for more detail: -v, -vv)")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit structured JSON logs instead of the console format")

	addServeFlags(RootCmd)

	RootCmd.AddCommand(VersionCmd)
}

// Execute runs the CLI, matching the teacher's cmd/qntx/main.go entry
// point shape: build the tree in init(), execute, exit non-zero on error.
// Single-dash spellings of the broker's long flags are normalized to
// double-dash before cobra ever parses argv (see normalizeArgs).
func Execute() {
	RootCmd.SetArgs(normalizeArgs(os.Args[1:]))
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
