// Package cmd contains the hello-client command.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-hello-listeners/internal/probe"
	"github.com/sirosfoundation/go-hello-listeners/pkg/tlsmaterial"
)

var (
	caFile     string
	path       string
	serverName string
	timeout    time.Duration
	targets    []string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hello-client",
	Short: "Probe hello-server listeners",
	Long: `hello-client sends one request to each hello listener and prints the
response it reads back.

Examples:
  # Probe the four default listeners, trusting ca.crt for the https ones
  hello-client --ca ca.crt

  # Probe a single listener
  hello-client --target http://127.0.0.1:8000 --path /foo/bar

Environment Variables:
  HELLO_CLIENT_CA  CA bundle used to verify https listeners`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cmd.OutOrStdout())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.Flags().StringVar(&caFile, "ca", getEnvOrDefault("HELLO_CLIENT_CA", ""), "CA bundle for https targets (default: system roots)")
	rootCmd.Flags().StringVar(&path, "path", probe.DefaultPath, "Request path")
	rootCmd.Flags().StringVar(&serverName, "server-name", "", "Expected server certificate name")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-target timeout")
	rootCmd.Flags().StringSliceVarP(&targets, "target", "t", probe.DefaultTargets, "Target base URLs")
}

func run(ctx context.Context, out io.Writer) error {
	opts := probe.Options{
		Path:       path,
		ServerName: serverName,
		Timeout:    timeout,
	}
	if caFile != "" {
		pool, err := tlsmaterial.LoadCAPool(caFile)
		if err != nil {
			return err
		}
		opts.RootCAs = pool
	}

	parsed := make([]probe.Target, 0, len(targets))
	for _, raw := range targets {
		t, err := probe.ParseTarget(raw)
		if err != nil {
			return err
		}
		parsed = append(parsed, t)
	}

	failed := 0
	for _, res := range probe.Run(ctx, parsed, opts) {
		name := res.Target.Name()
		if res.Err != nil {
			failed++
			fmt.Fprintf(out, "%s error: %v\n", name, res.Err)
			continue
		}
		fmt.Fprintf(out, "%s %s %d read %d %q\n", name, res.Proto, res.Status, len(res.Body), string(res.Body))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d targets failed", failed, len(parsed))
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
