package cmd

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/zjrosen/fedhost/internal/fragments"
)

var (
	fragmentsDir     string
	fragmentsAddr    string
	fragmentsNoWatch bool
)

var fragmentsCmd = &cobra.Command{
	Use:   "fragments",
	Short: "Serve a directory as a remote module",
	Long: `Serve a module directory containing module.yaml and its templates.

The server publishes /remoteEntry.json for the host and renders fragments
on POST /fragments/{name}. Edits to the directory are picked up without a
restart unless --no-watch is given.

Examples:
  fedhost fragments --dir ./modules/header --addr :3001
  fedhost fragments --dir ./modules/orders --addr :3003 --no-watch`,
	RunE: runFragments,
}

func init() {
	fragmentsCmd.Flags().StringVar(&fragmentsDir, "dir", "", "module directory (required)")
	fragmentsCmd.Flags().StringVar(&fragmentsAddr, "addr", ":3001", "address to listen on")
	fragmentsCmd.Flags().BoolVar(&fragmentsNoWatch, "no-watch", false, "do not reload on file changes")
	_ = fragmentsCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(fragmentsCmd)
}

func runFragments(cmd *cobra.Command, _ []string) error {
	initServerLogging()
	stopTracing, err := startServerTracing("fedhost-fragments")
	if err != nil {
		return err
	}
	defer stopTracing()

	srv, err := fragments.NewServer(fragmentsDir)
	if err != nil {
		return fmt.Errorf("loading module: %w", err)
	}
	if !fragmentsNoWatch {
		if err := srv.Watch(cmd.Context()); err != nil {
			return fmt.Errorf("watching %s: %w", fragmentsDir, err)
		}
	}

	return serve(cmd.Context(), "fragments", fragmentsAddr, srv.Handler(), func(addr net.Addr) {
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", fragmentsDir, addr)
	})
}
