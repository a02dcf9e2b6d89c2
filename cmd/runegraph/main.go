// Package main provides the RuneGraph CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/runegraph/pkg/config"
	"github.com/orneryd/runegraph/pkg/engine"
	"github.com/orneryd/runegraph/pkg/runegraph"
	"github.com/orneryd/runegraph/pkg/storage"
	"github.com/orneryd/runegraph/pkg/transport"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "runegraph",
		Short: "RuneGraph - Durable Embedded Graph Store",
		Long: `RuneGraph wraps an embedded graph query engine with durable,
debounced snapshot persistence.

Features:
  • Cypher-style query execution
  • Automatic snapshot persistence after mutations
  • Badger-backed durable storage
  • Optional background-worker execution mode`,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file path (YAML)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("RuneGraph v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new RuneGraph data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	// Query command
	queryCmd := &cobra.Command{
		Use:   "query [cypher]",
		Short: "Execute a single query",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	addStoreFlags(queryCmd)
	rootCmd.AddCommand(queryCmd)

	// Shell command (interactive REPL)
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive query shell",
		RunE:  runShell,
	}
	addStoreFlags(shellCmd)
	rootCmd.AddCommand(shellCmd)

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph and storage statistics",
		RunE:  runStats,
	}
	addStoreFlags(statsCmd)
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	cmd.Flags().String("persist-key", "", "Persistence key (overrides config)")
	cmd.Flags().Bool("remote", false, "Run the engine on a background worker")
}

// loadConfig merges the config file, environment and command-line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if key, _ := cmd.Flags().GetString("persist-key"); key != "" {
		cfg.PersistKey = key
	}
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		cfg.RemoteMode = true
	}
	return cfg, nil
}

// openDB opens the database in direct or remote mode per the config.
func openDB(ctx context.Context, cfg *config.Config) (*runegraph.DB, error) {
	if !cfg.RemoteMode {
		return runegraph.Open(ctx, cfg.Options())
	}

	var store storage.Store
	if cfg.DataDir != "" && cfg.PersistKey != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		var err error
		store, err = storage.NewBadgerStoreWithOptions(storage.BadgerStoreOptions{
			DataDir:    cfg.DataDir,
			SyncWrites: cfg.SyncWrites,
		})
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
	}

	worker := transport.NewEngineWorker(transport.EngineWorkerOptions{
		Factory:          engine.MemoryFactory{},
		Store:            store,
		PersistKey:       cfg.PersistKey,
		DebounceInterval: cfg.DebounceInterval,
	})
	return runegraph.OpenRemote(ctx, worker)
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("📂 Initializing RuneGraph data directory in %s\n", dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	// Create default config file
	configPath := filepath.Join(dataDir, "runegraph.yaml")
	configContent := `# RuneGraph Configuration
data_dir: ./data
persist_key: default

# Snapshot write debounce window
debounce_interval: 1s

# Run the engine on a background worker
remote_mode: false

# Force fsync after each storage write
sync_writes: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("✅ Data directory initialized")
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run a query:  runegraph query 'CREATE (n:Person {name: \"Odin\"})' --data-dir", dataDir)
	fmt.Println("  2. Check stats:  runegraph stats --data-dir", dataDir)

	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close(ctx)

	rows, err := db.Execute(ctx, args[0])
	if err != nil {
		return fmt.Errorf("executing query: %w", err)
	}
	printRows(rows)
	return nil
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close(ctx)

	fmt.Printf("RuneGraph v%s interactive shell\n", version)
	fmt.Println("Type 'exit' or Ctrl+D to quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("runegraph> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		rows, err := db.Execute(ctx, line)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			continue
		}
		printRows(rows)
	}

	return scanner.Err()
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close(ctx)

	stats, err := db.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}

	fmt.Println("📊 RuneGraph Statistics:")
	fmt.Printf("  Nodes: %d\n", stats.NodeCount)
	fmt.Printf("  Edges: %d\n", stats.EdgeCount)
	if stats.Storage != nil {
		fmt.Printf("  Storage: %d bytes across %d records\n", stats.Storage.UsedBytes, stats.Storage.Records)
	} else {
		fmt.Println("  Storage: persistence disabled")
	}

	return nil
}

func printRows(rows []engine.Row) {
	if len(rows) == 0 {
		fmt.Println("✅ OK (no rows)")
		return
	}
	for _, row := range rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(parts, " | "))
	}
	fmt.Printf("(%d rows)\n", len(rows))
}
