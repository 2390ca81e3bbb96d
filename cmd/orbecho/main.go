package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "orbecho",
		Short: "Serve and call an echo object through the ORB",
		Long: `orbecho hosts an echo servant and invokes it through the interceptor pipeline.
Without AMQP the call stays in process; with amqp.enabled it crosses RabbitMQ.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "orbecho.yaml", "configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the echo object on the broker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			return rt.serve(ctx)
		},
	}

	var count int
	callCmd := &cobra.Command{
		Use:   "call [message]",
		Short: "Invoke the echo object",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := "hello"
			if len(args) == 1 {
				message = args[0]
			}

			rt, err := newRuntime(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			for i := 0; i < count; i++ {
				out, err := rt.call(cmd.Context(), message)
				if err != nil {
					return fmt.Errorf("echo failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			printSummary(cmd.OutOrStdout(), rt.stats.GetMetricsSummary())
			return nil
		},
	}
	callCmd.Flags().IntVarP(&count, "count", "n", 1, "number of calls")

	rootCmd.AddCommand(serveCmd, callCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
