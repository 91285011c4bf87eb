package gseqcmd

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder/gbuilderhttp"
	"github.com/gordian-engine/gsequencer/gbuilder/gmembuilder"
	"github.com/gordian-engine/gsequencer/internal/ghttp"
	"github.com/gordian-engine/gsequencer/internal/gsolo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// unixPrefix marks a listen or builder address as a unix socket path.
const unixPrefix = "unix:"

func newBuilderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "builder",
		Short: "Block builder utilities",
	}

	cmd.AddCommand(newBuilderServeCommand())
	return cmd
}

func newBuilderServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory block builder over HTTP",
		Args:  cobra.NoArgs,

		RunE: runBuilderServe,
	}

	f := cmd.Flags()
	f.String("listen", "127.0.0.1:9200", "TCP address, or unix:PATH for a unix socket")
	addFeederFlags(cmd)

	return cmd
}

func addFeederFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Duration("feed-interval", 100*time.Millisecond, "interval between generated transaction batches; 0 disables")
	f.Int("feed-txs", 4, "transactions per generated batch")
	f.Int("feed-tx-size", 64, "size in bytes of each generated transaction")
	f.Uint64("feed-seed", 1, "seed for generated transactions")
}

// startFeeder runs a tx feeder in g if feeding is enabled.
func startFeeder(ctx context.Context, g *errgroup.Group, cfg feederConfig, f gsolo.TxFeeder) {
	if cfg.Interval <= 0 {
		return
	}
	f.Interval = cfg.Interval
	f.TxsPerTick = cfg.TxsPerTick
	f.TxSize = cfg.TxSize
	f.Seed = cfg.Seed

	g.Go(func() error {
		f.Run(ctx)
		return nil
	})
}

func runBuilderServe(cmd *cobra.Command, _ []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd.ErrOrStderr(), v.GetString("log-level"))
	if err != nil {
		return err
	}

	ln, err := listen(v.GetString("listen"))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	b := gmembuilder.New(log.With("sys", "builder"), gmembuilder.DefaultConfig())
	startFeeder(ctx, g, loadFeederConfig(v), gsolo.TxFeeder{
		Log:    log.With("sys", "feeder"),
		Target: b,
	})

	srv := ghttp.NewServer(ctx, log.With("sys", "http"), ghttp.ServerConfig{
		Listener: ln,
		Handler:  gbuilderhttp.NewHandler(log.With("sys", "handler"), b),
	})
	log.Info("Serving builder", "addr", ln.Addr().String())

	g.Go(func() error {
		return srv.Wait()
	})

	return g.Wait()
}

func listen(addr string) (net.Listener, error) {
	network := "tcp"
	if path, ok := strings.CutPrefix(addr, unixPrefix); ok {
		network, addr = "unix", path
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %q: %w", network, addr, err)
	}
	return ln, nil
}
