package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/zjrosen/fedhost/internal/config"
	"github.com/zjrosen/fedhost/internal/records"
	"github.com/zjrosen/fedhost/internal/sharedstate"
)

var (
	recordsAddr     string
	recordsDB       string
	recordsFailRate float64
	recordsID       string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Run the mock user record service",
	Long: `Run a small HTTP service that stores the shared user record in SQLite.

GET /user returns the record, PUT /user replaces it and PATCH /user merges
fields into it. The record is seeded from records.default in the config the
first time the database is created.

Examples:
  fedhost records                        # serve on :3005 from records.db
  fedhost records --fail-rate 0.3        # fail 30% of writes
  fedhost records --db /tmp/users.db --addr localhost:4000`,
	RunE: runRecords,
}

func init() {
	recordsCmd.Flags().StringVar(&recordsAddr, "addr", ":3005", "address to listen on")
	recordsCmd.Flags().StringVar(&recordsDB, "db", "records.db", "SQLite database path")
	recordsCmd.Flags().Float64Var(&recordsFailRate, "fail-rate", 0, "fraction of writes answered with HTTP 500 (0..1)")
	recordsCmd.Flags().StringVar(&recordsID, "id", "user_123", "record id served at /user")
	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, _ []string) error {
	if recordsFailRate < 0 || recordsFailRate > 1 {
		return fmt.Errorf("--fail-rate must be between 0 and 1, got %v", recordsFailRate)
	}
	initServerLogging()
	stopTracing, err := startServerTracing("fedhost-records")
	if err != nil {
		return err
	}
	defer stopTracing()

	srv, closeRepo, err := newRecordsServer(cmd.Context(), recordsDB, recordsID, recordsFailRate, cfg.Records.Default)
	if err != nil {
		return err
	}
	defer closeRepo()

	return serve(cmd.Context(), "records", recordsAddr, srv.Handler(), func(addr net.Addr) {
		fmt.Fprintf(cmd.OutOrStdout(), "Record service listening on %s (db: %s)\n", addr, recordsDB)
	})
}

// newRecordsServer opens the database and seeds id with seed when it does
// not exist yet.
func newRecordsServer(ctx context.Context, dbPath, id string, failRate float64, seed map[string]any) (*records.Server, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	repo, err := records.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if len(seed) == 0 {
		seed = config.DefaultRecord()
	}
	if err := repo.Seed(ctx, id, sharedstate.Record(seed)); err != nil {
		_ = repo.Close()
		return nil, nil, fmt.Errorf("seeding record: %w", err)
	}
	srv := records.NewServer(repo, records.ServerConfig{RecordID: id, FailRate: failRate})
	return srv, func() { _ = repo.Close() }, nil
}
