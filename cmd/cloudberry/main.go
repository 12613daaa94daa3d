// Command cloudberry runs a transfer hub node: the governed registry and
// forwarder state machine behind a QUIC wire protocol and an HTTP API.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/eigerco/cloudberry/internal/api"
	"github.com/eigerco/cloudberry/internal/chaintime"
	"github.com/eigerco/cloudberry/internal/config"
	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/metrics"
	"github.com/eigerco/cloudberry/internal/token"
	"github.com/eigerco/cloudberry/pkg/db/pebble"
	"github.com/eigerco/cloudberry/pkg/log"
	"github.com/eigerco/cloudberry/pkg/network/cert"
	"github.com/eigerco/cloudberry/pkg/network/node"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cloudberry",
		Short:         "Cross-chain asset transfer hub node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "cloudberry.toml", "path to the TOML configuration file")

	root.AddCommand(initCommand(&configPath))
	root.AddCommand(keygenCommand(&configPath))
	root.AddCommand(runCommand(&configPath))
	return root
}

// initCommand writes a default configuration file and a fresh node key.
func initCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and generate a node key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if err := cfg.Write(*configPath); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", *configPath)

			key, err := generateKeyFile(cfg.KeyFile)
			if err != nil {
				return err
			}
			cmd.Printf("wrote %s\naddress: %s\n", cfg.KeyFile, key.Address())
			return nil
		},
	}
}

// keygenCommand generates the node key named by the configuration.
func keygenCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate the node key and print its identities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			key, err := generateKeyFile(cfg.KeyFile)
			if err != nil {
				return err
			}
			pub, _ := transportKeys(key)
			cmd.Printf("wrote %s\naddress: %s\ntransport identity: %s\n",
				cfg.KeyFile, key.Address(), cert.EncodePubKeyToDNS(pub))
			return nil
		},
	}
}

// runCommand starts the node: store, hub, wire protocol and HTTP API.
func runCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the hub node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := initLogging(cfg.Log); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	key, err := readKeyFile(cfg.KeyFile)
	if err != nil {
		return err
	}
	forwarder := key.Address()

	kv, err := pebble.NewKVStore(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// Every registered token is backed by a ledger in the same store, with
	// custody held by the forwarder address.
	resolver := token.ResolverFunc(func(tok crypto.Address) (token.Ledger, error) {
		return token.NewReferenceLedger(kv, tok, forwarder), nil
	})

	h := hub.New(kv, resolver)
	bootstrapped, err := h.Bootstrapped()
	if err != nil {
		return err
	}
	if bootstrapped {
		if err := h.Load(); err != nil {
			return err
		}
	} else {
		genesis, err := cfg.HubGenesis(forwarder)
		if err != nil {
			return err
		}
		if err := h.Bootstrap(genesis, chaintime.Now()); err != nil {
			return err
		}
	}

	m := metrics.New()
	events, cancelEvents := h.Broadcaster().Subscribe(256)
	go m.ObserveEvents(events)

	transportPub, transportPrv := transportKeys(key)
	n, err := node.New(node.Config{
		ListenAddr:      cfg.ListenAddr,
		PublicKey:       transportPub,
		PrivateKey:      transportPrv,
		AcceptObservers: true,
	}, h, m)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	apiServer := api.NewServer(cfg.HTTPAddr, h, m)
	apiErr := make(chan error, 1)
	go func() { apiErr <- apiServer.Start() }()

	log.Root.Info().
		Uint64("chain", h.LocalChainID()).
		Str("forwarder", forwarder.String()).
		Str("listen", n.Addr()).
		Msg("node running")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			log.Root.Error().Err(err).Msg("http api failed")
		}
	}

	log.Root.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http api shutdown: %w", err))
	}
	if err := n.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("node stop: %w", err))
	}
	cancelEvents()
	if err := kv.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	return result.ErrorOrNil()
}

func initLogging(cfg config.Log) error {
	level, err := log.ParseLogLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	loggerType := log.ConsoleLogger
	if cfg.Format == "json" {
		loggerType = log.JSONLogger
	}
	log.Init(log.Options{LogLevel: level, Type: loggerType})
	return nil
}

// generateKeyFile creates a fresh secp256k1 key and writes it hex-encoded.
// Refuses to overwrite an existing key.
func generateKeyFile(path string) (*crypto.PrivateKey, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, hex.EncodeToString(key.Serialize())); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

func readKeyFile(path string) (*crypto.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	return crypto.PrivateKeyFromBytes(decoded)
}

// transportKeys derives the node's ed25519 transport identity from its
// signing key, domain-separated so the two key spaces never overlap.
func transportKeys(key *crypto.PrivateKey) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := crypto.KeccakData(append(key.Serialize(), []byte("cbnp-transport")...))
	prv := ed25519.NewKeyFromSeed(seed[:])
	return prv.Public().(ed25519.PublicKey), prv
}
