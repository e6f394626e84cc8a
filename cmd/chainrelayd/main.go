// Command chainrelayd runs a chainrelay validator node.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainrelay/chainrelay/config"
	"github.com/chainrelay/chainrelay/consensus"
	"github.com/chainrelay/chainrelay/crypto"
	"github.com/chainrelay/chainrelay/crypto/certgen"
	"github.com/chainrelay/chainrelay/health"
	"github.com/chainrelay/chainrelay/indexer"
	"github.com/chainrelay/chainrelay/internal/logging"
	"github.com/chainrelay/chainrelay/node"
	"github.com/chainrelay/chainrelay/rpc"
	"github.com/chainrelay/chainrelay/storage"
	"github.com/chainrelay/chainrelay/wallet"
)

var (
	cfgPath string
	keyPath string
)

func main() {
	root := &cobra.Command{
		Use:   "chainrelayd",
		Short: "Proof-of-authority replicated block log validator node",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.json", "path to config file")
	root.PersistentFlags().StringVar(&keyPath, "key", "validator.key", "path to keystore file")
	viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	viper.BindPFlag("key", root.PersistentFlags().Lookup("key"))

	root.AddCommand(runCmd(), genKeyCmd(), genCertsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func genKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new validator key and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("CHAINRELAY_PASSWORD")
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(keyPath, password, w.PrivKey()); err != nil {
				return err
			}
			fmt.Printf("Generated key. Public key: %s\n", w.PubKey())
			fmt.Printf("Saved to: %s\n", keyPath)
			return nil
		},
	}
}

func genCertsCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "gencerts",
		Short: "Generate a self-signed CA and node certificate for mTLS and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := certgen.GenerateAll(outDir, cfg.NodeID, nil); err != nil {
				return err
			}
			fmt.Printf("Certificates generated in %s for node %q\n", outDir, cfg.NodeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "./certs", "output directory")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the validator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func loadConfig() (*config.Config, error) {
	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CHAINRELAY")

	cfg := config.DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logging.New(cfg.LogLevel).WithField("node", cfg.NodeID)

	password := os.Getenv("CHAINRELAY_PASSWORD")
	if password == "" {
		log.Warn("CHAINRELAY_PASSWORD not set, keystore will use an empty password")
	}
	privKey, err := wallet.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}

	idxDB, err := storage.NewLevelDB(cfg.DataDir + "/index")
	if err != nil {
		return fmt.Errorf("open index db: %w", err)
	}
	defer idxDB.Close()

	peers := make([]health.PeerAddr, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, health.PeerAddr{ID: p.ID, Addr: p.Addr})
	}

	consCfg := consensus.DefaultConfig()
	cfg.Consensus.ApplyTo(&consCfg)

	pubKeys := make(map[string]crypto.PublicKey, len(cfg.ValidatorKeys))
	for id, hexKey := range cfg.ValidatorKeys {
		pub, err := crypto.PubKeyFromHex(hexKey)
		if err != nil {
			return fmt.Errorf("validator_keys[%s]: %w", id, err)
		}
		pubKeys[id] = pub
	}
	if consCfg.VerifySignatures && len(pubKeys) == 0 {
		log.Warn("verify_signatures is true but validator_keys is empty: no signature will be checked")
	}

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		log.Info("mTLS enabled for p2p")
	}

	n, err := node.New(node.Options{
		SelfID:        cfg.NodeID,
		ListenAddr:    fmt.Sprintf(":%d", cfg.P2PPort),
		ListeningPort: cfg.P2PPort,
		Peers:         peers,
		ValidatorSet:  cfg.Validators,
		Consensus:     consCfg,
		TLSConfig:     tlsCfg,
		PrivateKey:    privKey,
		PublicKeys:    pubKeys,
		DataDir:       cfg.DataDir,
		Log:           log,
	})
	if err != nil {
		return fmt.Errorf("node init: %w", err)
	}

	indexer.New(idxDB, n, log)

	if err := n.Start(); err != nil {
		return fmt.Errorf("node start: %w", err)
	}
	log.WithField("addr", fmt.Sprintf(":%d", cfg.P2PPort)).Info("p2p listening")

	var rpcServer *rpc.Server
	if cfg.HTTPPort != 0 {
		handler := rpc.NewHandler(n)
		rpcServer = rpc.NewServer(fmt.Sprintf(":%d", cfg.HTTPPort), handler, "")
		if err := rpcServer.Start(); err != nil {
			return fmt.Errorf("rpc start: %w", err)
		}
		log.WithField("addr", fmt.Sprintf(":%d", cfg.HTTPPort)).Info("admin rpc listening")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	n.Stop()
	if rpcServer != nil {
		rpcServer.Stop()
	}
	time.Sleep(100 * time.Millisecond)
	log.Info("shutdown complete")
	return nil
}
