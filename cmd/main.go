package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"referral-tree/chain"
	"referral-tree/config"
	"referral-tree/dashboard"
	"referral-tree/db"
	"referral-tree/logger"
	"referral-tree/repository"
	"referral-tree/store"
)

const configFlagName = "config"

var rootCmd = &cobra.Command{
	Use:           "referral-tree",
	Short:         "Referral tree dashboard backed by the on-chain referral contract",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(configFlagName, config.DefaultPath, "Path to the config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupConfig loads the config named by --config and initialises the logger.
func setupConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(configFlagName)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// app is the wiring shared by every command.
type app struct {
	cfg       *config.Config
	ldb       *db.LevelDB
	repo      *repository.NodeRepository
	persister *store.DebouncedPersister
	store     *store.Store
	reader    *chain.ContractReader
	svc       *dashboard.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	repo := repository.NewNodeRepository(ldb)
	persister := store.NewDebouncedPersister(repo, 0)

	st := store.New(
		store.WithCacheExpiry(cfg.Cache.Expiry),
		store.WithPersister(persister),
	)
	if err := st.Load(); err != nil {
		logger.Logger.Warn("Ignoring unreadable dashboard state", zap.Error(err))
	}

	reader, err := chain.DialContractReader(ctx, cfg.Chain.RPCURL, cfg.Chain.Contract)
	if err != nil {
		ldb.Close()
		return nil, err
	}

	svc := dashboard.NewService(reader, st,
		dashboard.WithRepository(repo),
		dashboard.WithReadTimeout(cfg.Chain.ReadTimeout),
		dashboard.WithNodeCacheSize(cfg.Cache.NodeLimit),
	)
	return &app{cfg: cfg, ldb: ldb, repo: repo, persister: persister, store: st, reader: reader, svc: svc}, nil
}

func (a *app) Close() {
	a.svc.Close()
	a.reader.Close()
	if err := a.persister.Flush(); err != nil {
		logger.Logger.Warn("Failed to save dashboard state", zap.Error(err))
	}
	if err := a.ldb.Close(); err != nil {
		logger.Logger.Warn("Failed to close leveldb", zap.Error(err))
	}
}
