package gseqcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gordian-engine/gsequencer/gbuilder/gbuilderhttp"
	"github.com/gordian-engine/gsequencer/gbuilder/gmembuilder"
	"github.com/gordian-engine/gsequencer/internal/ghttp"
	"github.com/gordian-engine/gsequencer/internal/gsolo"
	"github.com/gordian-engine/gsequencer/tm/tmcodec/tmjson"
	"github.com/gordian-engine/gsequencer/tm/tmorchestrator"
	"github.com/gordian-engine/gsequencer/tm/tmp2p"
	"github.com/gordian-engine/gsequencer/tm/tmp2p/tmlibp2p"
	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single-validator sequencer",
		Long: `Run a sequencer that builds, validates, and decides heights on its own.

With no --builder-addr, an in-memory builder is used
and filled with generated transactions.`,
		Args: cobra.NoArgs,

		RunE: runRun,
	}

	f := cmd.Flags()
	f.String("node-name", "", "name used in logs and /status (default random)")
	f.String("builder-addr", "", "remote builder URL, or unix:PATH; empty for an in-memory builder")
	f.Duration("builder-timeout", 5*time.Second, "per-request timeout for a remote builder")
	f.Uint64("validators", 1, "size of the validator set")
	f.Uint64("start-height", 1, "first height to decide")
	f.Uint64("heights", 0, "number of heights to decide; 0 runs until interrupted")
	f.Duration("proposal-timeout", 2*time.Second, "time allowed to build a proposal")
	f.Duration("validation-timeout", 2*time.Second, "time allowed to validate a proposal")
	f.String("http-addr", "", "address for the /metrics and /status server; empty disables")
	f.String("libp2p-listen", "", "libp2p multiaddr to gossip consensus messages on; empty disables")
	f.StringSlice("libp2p-peers", nil, "peer multiaddrs, including /p2p/ID, to connect to at startup")
	addFeederFlags(cmd)

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadRunConfig(v)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd.ErrOrStderr(), v.GetString("log-level"))
	if err != nil {
		return err
	}
	log = log.With("node", cfg.NodeName)

	rootCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(rootCtx)

	var result *multierror.Error

	builder, err := newBuilder(ctx, g, log, cfg, v.GetDuration("builder-timeout"))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := tmorchestrator.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var bc tmp2p.Broadcaster = new(tmp2p.NopBroadcaster)
	var p2pHost host.Host
	var lbc *tmlibp2p.Broadcaster
	if cfg.Libp2pListen != "" {
		p2pHost, lbc, err = startLibp2p(ctx, g, log, cfg.Libp2pListen, cfg.Libp2pPeers)
		if err != nil {
			return err
		}
		bc = lbc
	}

	o, err := tmorchestrator.New(ctx, log.With("sys", "orchestrator"), tmorchestrator.Config{
		Builder:       builder,
		Broadcaster:   bc,
		NumValidators: cfg.Validators,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	status := &nodeStatus{NodeName: cfg.NodeName}

	if cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen for debug server: %w", err)
		}
		srv := ghttp.NewServer(ctx, log.With("sys", "debughttp"), ghttp.ServerConfig{
			Listener: ln,
			Handler:  newDebugMux(log, reg, status),
		})
		log.Info("Serving debug HTTP", "addr", ln.Addr().String())
		g.Go(func() error {
			return srv.Wait()
		})
	}

	g.Go(func() error {
		// Everything else stops when the driver does.
		defer cancel()
		return driveHeights(ctx, cmd.OutOrStdout(), log, o, cfg, status)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		result = multierror.Append(result, err)
	}

	o.Wait()

	if lbc != nil {
		lbc.Wait()
	}
	if p2pHost != nil {
		if err := p2pHost.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close libp2p host: %w", err))
		}
	}

	return result.ErrorOrNil()
}

func newBuilder(
	ctx context.Context, g *errgroup.Group, log *slog.Logger, cfg runConfig, timeout time.Duration,
) (gbuilder.Builder, error) {
	if cfg.BuilderAddr == "" {
		b := gmembuilder.New(log.With("sys", "builder"), gmembuilder.DefaultConfig())
		startFeeder(ctx, g, cfg.Feeder, gsolo.TxFeeder{
			Log:    log.With("sys", "feeder"),
			Target: b,
		})
		return b, nil
	}

	cc := gbuilderhttp.ClientConfig{Timeout: timeout}
	if path, ok := strings.CutPrefix(cfg.BuilderAddr, unixPrefix); ok {
		cc.UnixSocket = path
	} else {
		cc.BaseURL = cfg.BuilderAddr
	}

	c, err := gbuilderhttp.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create builder client: %w", err)
	}
	log.Info("Using remote builder", "addr", cfg.BuilderAddr)
	return c, nil
}

// startLibp2p starts a host listening on listenAddr,
// joins the consensus topic, and dials each of peers.
// A peer that cannot be reached is logged and skipped,
// so nodes may be started in any order.
func startLibp2p(
	ctx context.Context, g *errgroup.Group, log *slog.Logger, listenAddr string, peers []peer.AddrInfo,
) (host.Host, *tmlibp2p.Broadcaster, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start libp2p host: %w", err)
	}

	bc, err := tmlibp2p.NewBroadcaster(ctx, log.With("sys", "libp2p"), tmlibp2p.BroadcasterConfig{
		Host:  h,
		Codec: tmjson.MarshalCodec{},
	})
	if err != nil {
		_ = h.Close()
		return nil, nil, err
	}

	log.Info("libp2p host started", "id", h.ID().String(), "addrs", h.Addrs())

	for _, p := range peers {
		if err := h.Connect(ctx, p); err != nil {
			log.Warn("Failed to connect to libp2p peer", "peer", p.ID.String(), "err", err)
			continue
		}
		log.Info("Connected to libp2p peer", "peer", p.ID.String())
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case m := <-bc.Incoming():
				log.Debug("Received consensus message", "kind", m.Kind(), "height", m.Height())
			}
		}
	})

	return h, bc, nil
}

func driveHeights(
	ctx context.Context,
	out io.Writer,
	log *slog.Logger,
	o *tmorchestrator.Orchestrator,
	cfg runConfig,
	status *nodeStatus,
) error {
	d := gsolo.Driver{
		Log:               log.With("sys", "driver"),
		Context:           o,
		Self:              o.Proposer(cfg.StartHeight, 0),
		ProposalTimeout:   cfg.ProposalTimeout,
		ValidationTimeout: cfg.ValidationTimeout,
	}

	for h := cfg.StartHeight; cfg.Heights == 0 || h < cfg.StartHeight+cfg.Heights; h++ {
		decided, err := d.Run(ctx, h, 1)
		if err != nil {
			return err
		}

		dec := decided[0]
		status.recordDecision(dec.Height, dec.ContentID, len(dec.Txs))
		fmt.Fprintf(out, "height=%d txs=%d content=%x\n", dec.Height, len(dec.Txs), dec.ContentID)
	}
	return nil
}
