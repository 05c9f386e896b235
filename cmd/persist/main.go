package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rizalgowandy/materialize/internal/bench"
	cfgpkg "github.com/rizalgowandy/materialize/internal/config"
	"github.com/rizalgowandy/materialize/internal/persist"
	"github.com/rizalgowandy/materialize/internal/storage/blob"
	"github.com/rizalgowandy/materialize/internal/storage/meta"
	logpkg "github.com/rizalgowandy/materialize/pkg/log"
)

func main() {
	level := os.Getenv("PERSIST_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(logpkg.WithLevel(parsed))

	rootCmd := &cobra.Command{
		Use:   "persist",
		Short: "Persist shard CLI",
		Long:  "Operator tooling for persist shards: benchmarks against real backends and shard state inspection.",
	}
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (defaults to the standard location)")
	rootCmd.PersistentFlags().String("shard", "bench", "Shard name")
	rootCmd.PersistentFlags().String("blob", "file", "Blob backend: memory|file|s3")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket (blob=s3)")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region (blob=s3)")
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3-compatible endpoint (blob=s3)")
	rootCmd.PersistentFlags().String("config", "", "Config file (JSON)")

	benchCmd := &cobra.Command{Use: "bench", Short: "Benchmark commands"}
	benchCmd.PersistentFlags().Int("batches", 100, "Number of appends")
	benchCmd.PersistentFlags().Int("rows", 1000, "Rows per append")
	benchCmd.PersistentFlags().Int("value-bytes", 64, "Value payload size")
	benchCmd.PersistentFlags().Int("snapshots", 20, "Snapshot reads")
	benchCmd.PersistentFlags().Int("readers", 4, "Concurrent snapshot readers")

	type benchFn func(context.Context, *persist.Shard, bench.Options) (bench.Result, error)
	runBench := func(name string, fn benchFn) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shard, cleanup, err := openShard(cmd, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			batches, _ := cmd.Flags().GetInt("batches")
			rows, _ := cmd.Flags().GetInt("rows")
			valueBytes, _ := cmd.Flags().GetInt("value-bytes")
			snapshots, _ := cmd.Flags().GetInt("snapshots")
			readers, _ := cmd.Flags().GetInt("readers")
			opts := bench.Options{
				Batches:      batches,
				RowsPerBatch: rows,
				ValueBytes:   valueBytes,
				Snapshots:    snapshots,
				Readers:      readers,
			}

			logger.Info("starting benchmark", logpkg.F("bench", name))
			res, err := fn(ctx, shard, opts)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", name, res)
			return nil
		}
	}

	benchCmd.AddCommand(
		&cobra.Command{Use: "write", Short: "Sustained append throughput", RunE: runBench("write", bench.Write)},
		&cobra.Command{Use: "snapshot", Short: "Snapshot read latency", RunE: runBench("snapshot", bench.Snapshot)},
		&cobra.Command{Use: "roundtrip", Short: "Commit-to-visibility latency", RunE: runBench("roundtrip", bench.RoundTrip)},
	)
	rootCmd.AddCommand(benchCmd)

	stateCmd := &cobra.Command{Use: "state", Short: "Shard state commands"}
	stateDumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print a shard's published state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			shard, cleanup, err := openShard(cmd, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := shard.State(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	stateCmd.AddCommand(stateDumpCmd)
	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openShard wires a shard from the persistent flags: a pebble meta store
// under the data dir plus the selected blob backend.
func openShard(cmd *cobra.Command, logger logpkg.Logger) (*persist.Shard, func(), error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	shardName, _ := cmd.Flags().GetString("shard")
	blobKind, _ := cmd.Flags().GetString("blob")
	configPath, _ := cmd.Flags().GetString("config")

	if dataDir == "" {
		dataDir = cfgpkg.DefaultDataDir()
	}

	cfg := cfgpkg.Default()
	if configPath != "" {
		loaded, err := cfgpkg.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	cfgpkg.FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var blobStore blob.Store
	switch blobKind {
	case "memory":
		blobStore = blob.NewMemory()
	case "file":
		f, err := blob.OpenFile(filepath.Join(dataDir, "blobs"))
		if err != nil {
			return nil, nil, err
		}
		blobStore = f
	case "s3":
		bucket, _ := cmd.Flags().GetString("s3-bucket")
		region, _ := cmd.Flags().GetString("s3-region")
		endpoint, _ := cmd.Flags().GetString("s3-endpoint")
		s, err := blob.OpenS3(blob.S3Config{
			Bucket:    bucket,
			Region:    region,
			Endpoint:  endpoint,
			AccessKey: os.Getenv("PERSIST_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("PERSIST_S3_SECRET_KEY"),
		})
		if err != nil {
			return nil, nil, err
		}
		blobStore = s
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", blobKind)
	}
	closers = append(closers, func() { _ = blobStore.Close() })

	pdb, err := meta.OpenPebble(meta.PebbleOptions{
		DataDir: filepath.Join(dataDir, "meta"),
		Fsync:   meta.FsyncModeAlways,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = pdb.Close() })

	shard, err := persist.Open(persist.ShardOptions{
		Name:   shardName,
		Blob:   blobStore,
		Meta:   pdb.Record(shardName),
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return shard, cleanup, nil
}
