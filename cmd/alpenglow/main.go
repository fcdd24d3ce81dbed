// Command alpenglow runs a single validator node: the certificate engine,
// the dissemination pipeline and the coordinator wired together over a
// committee snapshot. Transport and cryptographic primitives are supplied by
// the deployment; this entrypoint wires development stand-ins so a node can
// run standalone.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alpenlabs/alpenglow/config"
	"github.com/alpenlabs/alpenglow/consensus/votor"
	"github.com/alpenlabs/alpenglow/consensus/votor/leader"
	"github.com/alpenlabs/alpenglow/consensus/votor/pacemaker"
	"github.com/alpenlabs/alpenglow/consensus/votor/pacemaker/timeout"
	"github.com/alpenlabs/alpenglow/crypto"
	"github.com/alpenlabs/alpenglow/engine/coordinator"
	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/module/irrecoverable"
	"github.com/alpenlabs/alpenglow/module/metrics"
	"github.com/alpenlabs/alpenglow/network"
	"github.com/alpenlabs/alpenglow/rotor"
	"github.com/alpenlabs/alpenglow/rotor/relay"
	"github.com/alpenlabs/alpenglow/rotor/repair"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath    string
		committeePath string
		nodeIDHex     string
		seedHex       string
		seedProofHex  string
		authorityHex  string
		metricsAddr   string
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "alpenglow",
		Short: "Alpenglow validator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, committeePath, nodeIDHex, seedHex, seedProofHex, authorityHex, metricsAddr, logLevel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (optional, env and defaults otherwise)")
	cmd.Flags().StringVar(&committeePath, "committee", "committee.json", "path to the committee snapshot")
	cmd.Flags().StringVar(&nodeIDHex, "node-id", "", "this node's identifier (hex)")
	cmd.Flags().StringVar(&seedHex, "epoch-seed", "", "epoch randomness seed for leader selection (hex)")
	cmd.Flags().StringVar(&seedProofHex, "seed-proof", "", "VRF proof attesting the epoch seed (hex)")
	cmd.Flags().StringVar(&authorityHex, "seed-authority", "", "committee member that published the epoch seed (hex node ID)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "listen address of the metrics endpoint")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	return cmd
}

func run(configPath, committeePath, nodeIDHex, seedHex, seedProofHex, authorityHex, metricsAddr, logLevel string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	committee, err := loadCommittee(committeePath)
	if err != nil {
		return fmt.Errorf("could not load committee: %w", err)
	}
	self, err := parseIdentifier(nodeIDHex)
	if err != nil {
		return fmt.Errorf("invalid node ID: %w", err)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return fmt.Errorf("invalid epoch seed: %w", err)
	}
	seedProof, err := hex.DecodeString(seedProofHex)
	if err != nil {
		return fmt.Errorf("invalid seed proof: %w", err)
	}
	authorityID, err := parseIdentifier(authorityHex)
	if err != nil {
		return fmt.Errorf("invalid seed authority: %w", err)
	}

	verifier := devVerifier{}
	if err := verifyEpochSeed(verifier, committee, authorityID, seed, seedProof); err != nil {
		return fmt.Errorf("could not verify epoch seed: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	selector, err := leader.NewSelector(seed, committee)
	if err != nil {
		return fmt.Errorf("could not construct leader selector: %w", err)
	}
	pm, err := pacemaker.New(log, timeout.DefaultConfig(cfg.ViewTimeout))
	if err != nil {
		return fmt.Errorf("could not construct pacemaker: %w", err)
	}

	conduit := newDevConduit(log)

	votorEngine, err := votor.New(
		log,
		collector,
		votor.Config{FastThreshold: cfg.FastThreshold, SlowThreshold: cfg.SlowThreshold},
		committee,
		self,
		devSigner{nodeID: self},
		verifier,
		selector,
		logConsumer{log: log},
	)
	if err != nil {
		return fmt.Errorf("could not construct certificate engine: %w", err)
	}

	rt := rotor.New(log, collector, cfg.CodingWorkers, int(cfg.TotalShreds)*4)
	defer rt.Stop()

	rl, err := relay.New(log, conduit, self, committee, relay.Policy(cfg.RelayPolicy), cfg.RelayFanout, cfg.MaxHops)
	if err != nil {
		return fmt.Errorf("could not construct relay: %w", err)
	}
	repairer, err := repair.NewRepairer(log, collector, conduit, self, committee, repair.DefaultConfig(cfg.RepairGracePeriod))
	if err != nil {
		return fmt.Errorf("could not construct repairer: %w", err)
	}

	node, err := coordinator.New(
		log, cfg, votorEngine, pm, selector, rt, rl, repairer,
		emptyPayloads{}, conduit, self, committee,
	)
	if err != nil {
		return fmt.Errorf("could not construct coordinator: %w", err)
	}

	go serveMetrics(log, metricsAddr, registry)

	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	signalerCtx, errChan := irrecoverable.WithSignaler(runCtx)

	node.Start(signalerCtx)
	<-node.Ready()
	log.Info().Hex("node_id", self[:]).Int("committee", len(committee)).Msg("node started")

	select {
	case err := <-errChan:
		log.Error().Err(err).Msg("irrecoverable error, shutting down")
		cancel()
		<-node.Done()
		return err
	case <-runCtx.Done():
		log.Info().Msg("shutdown signal received")
		<-node.Done()
		return nil
	}
}

// verifyEpochSeed checks the epoch randomness against its VRF proof under
// the publishing committee member's key before it may seed leader selection.
// An unverified seed would let its publisher bias the leader schedule.
func verifyEpochSeed(verifier crypto.Verifier, committee model.IdentityList, authorityID model.Identifier, seed, proof []byte) error {
	authority, found := committee.ByNodeID(authorityID)
	if !found {
		return fmt.Errorf("seed authority %x is not a committee member", authorityID)
	}
	if !verifier.VerifyVRFProof(seed, proof, authority.PubKey) {
		return fmt.Errorf("epoch seed does not match its VRF proof")
	}
	return nil
}

func serveMetrics(log zerolog.Logger, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
	}
}

// committeeEntry is one member of the committee snapshot file.
type committeeEntry struct {
	NodeID string `json:"node_id"`
	PubKey string `json:"pub_key"`
	Stake  uint64 `json:"stake"`
}

func loadCommittee(path string) (model.IdentityList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read committee file %s: %w", path, err)
	}
	var entries []committeeEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("could not parse committee file %s: %w", path, err)
	}

	committee := make(model.IdentityList, 0, len(entries))
	for i, entry := range entries {
		nodeID, err := parseIdentifier(entry.NodeID)
		if err != nil {
			return nil, fmt.Errorf("invalid node ID in committee entry %d: %w", i, err)
		}
		pubKey, err := hex.DecodeString(entry.PubKey)
		if err != nil {
			return nil, fmt.Errorf("invalid public key in committee entry %d: %w", i, err)
		}
		committee = append(committee, &model.Identity{NodeID: nodeID, PubKey: pubKey, Stake: entry.Stake})
	}
	return committee, nil
}

func parseIdentifier(s string) (model.Identifier, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return model.ZeroID, err
	}
	if len(raw) != len(model.Identifier{}) {
		return model.ZeroID, fmt.Errorf("identifier must be %d bytes, got %d", len(model.Identifier{}), len(raw))
	}
	var id model.Identifier
	copy(id[:], raw)
	return id, nil
}

// devConduit is a development transport that logs sends instead of
// delivering them. Deployments replace it with a real network stack.
type devConduit struct {
	log zerolog.Logger
}

var _ network.Conduit = (*devConduit)(nil)

func newDevConduit(log zerolog.Logger) *devConduit {
	return &devConduit{log: log.With().Str("component", "dev-conduit").Logger()}
}

func (c *devConduit) Unicast(targetID model.Identifier, event interface{}) error {
	c.log.Debug().Hex("target", targetID[:]).Str("type", fmt.Sprintf("%T", event)).Msg("unicast")
	return nil
}

func (c *devConduit) Multicast(targetIDs []model.Identifier, event interface{}) error {
	c.log.Debug().Int("targets", len(targetIDs)).Str("type", fmt.Sprintf("%T", event)).Msg("multicast")
	return nil
}

// devSigner and devVerifier are development key stand-ins. They provide no
// security whatsoever; production deployments wire BLS implementations.
type devSigner struct {
	nodeID model.Identifier
}

func (s devSigner) Sign(message []byte) ([]byte, error) {
	return append(append([]byte{}, s.nodeID[:]...), message...), nil
}

type devVerifier struct{}

func (devVerifier) VerifySignature(pubKey, message, sig []byte) bool { return len(sig) > 0 }
func (devVerifier) VerifyVRFProof(seed, proof, pubKey []byte) bool   { return len(proof) > 0 }

// logConsumer reports finalization events to the log. The ledger collaborator
// replaces it in a full deployment.
type logConsumer struct {
	log zerolog.Logger
}

func (c logConsumer) OnCertificateFormed(cert *model.Certificate) {
	c.log.Info().
		Uint64("slot", cert.Slot).
		Str("type", cert.Type.String()).
		Msg("certificate formed")
}

func (c logConsumer) OnBlockFinalized(block *model.Block) {
	blockID := block.ID()
	c.log.Info().
		Uint64("slot", block.Slot).
		Hex("block_id", blockID[:]).
		Msg("block finalized")
}

type emptyPayloads struct{}

func (emptyPayloads) BuildPayload(slot uint64) []byte { return nil }
