package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"edgessr/internal/probe"
	u "edgessr/internal/utils"
)

type probeFlags struct {
	name       string
	header     string
	chromePath string
	noSandbox  bool
	timeout    time.Duration
	printHTML  bool
}

func newRootCmd(cfg u.Config) *cobra.Command {
	f := probeFlags{
		header:     cfg.Render.NameHeader,
		chromePath: cfg.Probe.ChromePath,
		noSandbox:  cfg.Probe.NoSandbox,
		timeout:    time.Duration(cfg.Probe.TimeoutSecs) * time.Second,
	}

	cmd := &cobra.Command{
		Use:   "ssrprobe <url>",
		Short: "Load a server-rendered greeting page in headless Chrome and verify it",
		Long: `Load a server-rendered greeting page in headless Chrome and verify it.

The page must carry the expected title, greet the given name (or the
configured default name) and show a valid timestamp.

Examples:
  ssrprobe http://127.0.0.1:8080/
  ssrprobe --name Alice --no-sandbox http://127.0.0.1:8080/`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args[0], f, cfg.Render.DefaultName)
		},
	}

	cmd.Flags().StringVar(&f.name, "name", "", "Value sent in the name header (empty: expect the default name)")
	cmd.Flags().StringVar(&f.header, "header", f.header, "Request header carrying the name")
	cmd.Flags().StringVar(&f.chromePath, "chrome", f.chromePath, "Chrome/Chromium executable")
	cmd.Flags().BoolVar(&f.noSandbox, "no-sandbox", f.noSandbox, "Run Chrome without its sandbox")
	cmd.Flags().DurationVar(&f.timeout, "timeout", f.timeout, "Overall page load timeout")
	cmd.Flags().BoolVar(&f.printHTML, "html", false, "Print the captured HTML")
	return cmd
}

func runProbe(cmd *cobra.Command, url string, f probeFlags, defaultName string) error {
	start := time.Now()
	snap, err := probe.Probe(cmd.Context(), probe.Options{
		URL:        url,
		Name:       f.name,
		NameHeader: f.header,
		ChromePath: f.chromePath,
		NoSandbox:  f.noSandbox,
		Timeout:    f.timeout,
	})
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}

	expect := f.name
	if expect == "" {
		expect = defaultName
	}
	if err := snap.Verify(expect); err != nil {
		return err
	}

	u.Info("Probe passed", "url", url, "title", snap.Title, "clock", snap.Clock, "elapsed_ms", time.Since(start).Milliseconds())
	if f.printHTML {
		fmt.Fprintln(cmd.OutOrStdout(), snap.HTML)
	}
	return nil
}

func main() {
	cfg := u.LoadConfig()
	if cfg.Probe.ChromePath == "" {
		cfg.Probe.ChromePath = os.Getenv("CHROME_BIN")
	}
	u.SetLogLevel(cfg.Logger.Level)

	if err := newRootCmd(cfg).ExecuteContext(context.Background()); err != nil {
		u.Error("Probe failed", "error", err)
		os.Exit(1)
	}
}
