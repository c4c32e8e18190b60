// Package main provides the identitygraphd CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/metrik-tech/lily/pkg/config"
	"github.com/metrik-tech/lily/pkg/graph"
	"github.com/metrik-tech/lily/pkg/identity"
	"github.com/metrik-tech/lily/pkg/kvstore"
	"github.com/metrik-tech/lily/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "identitygraphd",
		Short: "identitygraphd - identity graph and risk scoring over a flat key-value store",
		Long: `identitygraphd tracks which users connect from which IPs and browser
fingerprints, maintains a property graph of that activity over a
flat key-value store, and scores each user's recent identity churn.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("identitygraphd v%s (%s)\n", version, commit)
		},
	})

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record one observed user/IP/fingerprint connection",
		RunE:  runRecord,
	}
	recordCmd.Flags().String("user-id", "", "user id (required)")
	recordCmd.Flags().String("ip", "", "source IP (required)")
	recordCmd.Flags().String("fingerprint", "", "device fingerprint (required)")
	recordCmd.Flags().String("user-agent", "", "raw User-Agent header")
	recordCmd.Flags().String("timestamp", "", "ISO-8601 timestamp (defaults to now)")
	_ = recordCmd.MarkFlagRequired("user-id")
	_ = recordCmd.MarkFlagRequired("ip")
	_ = recordCmd.MarkFlagRequired("fingerprint")
	rootCmd.AddCommand(recordCmd)

	connectionsCmd := &cobra.Command{
		Use:   "connections",
		Short: "Print a user's known IPs and fingerprints",
		RunE:  runConnections,
	}
	connectionsCmd.Flags().String("user-id", "", "user id (required)")
	_ = connectionsCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(connectionsCmd)

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the risk-scored connection graph across all users",
		RunE:  runGraph,
	}
	graphCmd.Flags().Int("hours", 24, "recency window in hours")
	graphCmd.Flags().Int("risk-threshold", 0, "drop users scoring below this")
	graphCmd.Flags().Bool("paged", false, "follow the full USER index cursor chain instead of one page")
	rootCmd.AddCommand(graphCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openTracker wires a kvstore.Store, graph.DB, and identity.Tracker
// together per the active config.Config, mirroring how a long-running
// server composition root would build the same stack once at startup.
func openTracker(cfg *config.Config) (*identity.Tracker, func() error, error) {
	var store kvstore.Store
	var err error

	switch cfg.Store.Backend {
	case config.StoreBackendBadger:
		store, err = kvstore.NewBadgerStore(kvstore.BadgerOptions{
			DataDir:    cfg.Store.DataDir,
			InMemory:   cfg.Store.InMemory,
			SyncWrites: cfg.Store.SyncWrites,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening badger store: %w", err)
		}
	default:
		store = kvstore.NewMemStore()
	}

	db := graph.New(store, graph.WithPrefixes(cfg.Graph.NodePrefix, cfg.Graph.EdgePrefix, cfg.Graph.IndexPrefix))

	risk := identity.NewRiskEngine(
		identity.WithManyIPs24h(cfg.Risk.ManyIPs24hThreshold, cfg.Risk.ManyIPs24hCap),
		identity.WithRapidIPs1h(cfg.Risk.RapidIPs1hThreshold, cfg.Risk.RapidIPs1hCap),
		identity.WithManyFPs24h(cfg.Risk.ManyFPs24hThreshold, cfg.Risk.ManyFPs24hCap),
		identity.WithRapidChange(cfg.Risk.RapidChangeWindow, cfg.Risk.RapidChangeDelta, cfg.Risk.RapidChangeCap),
		identity.WithLevelThresholds(cfg.Risk.MediumThreshold, cfg.Risk.HighThreshold),
	)

	opts := []identity.TrackerOption{
		identity.WithRiskEngine(risk),
		identity.WithBatchSize(cfg.Graph.QueryBatchSize),
	}
	if cfg.Graph.SerializePerUser {
		opts = append(opts, identity.WithPerUserSerialization())
	}

	tracker := identity.New(db, opts...)
	return tracker, store.Close, nil
}

func loadConfig(log *telemetry.Logger) *config.Config {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

func runRecord(cmd *cobra.Command, args []string) error {
	log := telemetry.Default("record", os.Getenv("IDENTITYGRAPH_LOG_LEVEL"))
	cfg := loadConfig(log)

	tracker, closeStore, err := openTracker(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	userID, _ := cmd.Flags().GetString("user-id")
	ip, _ := cmd.Flags().GetString("ip")
	fingerprint, _ := cmd.Flags().GetString("fingerprint")
	userAgent, _ := cmd.Flags().GetString("user-agent")
	timestamp, _ := cmd.Flags().GetString("timestamp")

	ctx := context.Background()
	if err := tracker.RecordConnection(ctx, userID, ip, fingerprint, userAgent, timestamp); err != nil {
		return fmt.Errorf("recording connection: %w", err)
	}

	log.Info("recorded connection", "userId", userID, "ip", ip)
	return nil
}

func runConnections(cmd *cobra.Command, args []string) error {
	log := telemetry.Default("connections", os.Getenv("IDENTITYGRAPH_LOG_LEVEL"))
	cfg := loadConfig(log)

	tracker, closeStore, err := openTracker(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	userID, _ := cmd.Flags().GetString("user-id")

	conns, err := tracker.GetUserConnections(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("fetching connections: %w", err)
	}

	return printJSON(conns)
}

func runGraph(cmd *cobra.Command, args []string) error {
	log := telemetry.Default("graph", os.Getenv("IDENTITYGRAPH_LOG_LEVEL"))
	cfg := loadConfig(log)

	tracker, closeStore, err := openTracker(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hours, _ := cmd.Flags().GetInt("hours")
	riskThreshold, _ := cmd.Flags().GetInt("risk-threshold")
	paged, _ := cmd.Flags().GetBool("paged")

	opts := identity.ConnectionGraphOptions{Hours: hours, RiskThreshold: riskThreshold}

	ctx := context.Background()
	var g *identity.ConnectionGraph
	if paged {
		g, err = tracker.GetConnectionGraphPaged(ctx, opts)
	} else {
		g, err = tracker.GetConnectionGraph(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("building connection graph: %w", err)
	}

	return printJSON(g)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
