package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nspcc-dev/smallfiles/cmd/internal/cmderr"
	metricsconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/metrics"
	natsconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/nats"
	"github.com/nspcc-dev/smallfiles/misc"
	"github.com/nspcc-dev/smallfiles/pkg/metrics"
	"github.com/nspcc-dev/smallfiles/pkg/packer"
	"github.com/nspcc-dev/smallfiles/pkg/prefetch"
	"github.com/nspcc-dev/smallfiles/pkg/services/notificator/nats"
	"github.com/nspcc-dev/smallfiles/pkg/util"
	"github.com/nspcc-dev/smallfiles/pkg/util/grace"
	httputil "github.com/nspcc-dev/smallfiles/pkg/util/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const onceFlag = "once"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run packing loop",
	Long: `Run packs eligible files of every configured group once per loop delay
until interrupted. Interruption in the middle of packing removes the
unfinished container and exits with code 1.`,
	Args: cobra.NoArgs,
	RunE: runPacker,
}

func init() {
	runCmd.Flags().Bool(onceFlag, false, "Run a single packing cycle and exit")
}

func runPacker(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ctx := grace.NewGracefulContext(a.log)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			a.log.Warn("failed to close record store", zap.Error(err))
		}
	}()

	pool, err := util.NewWorkerPool(len(a.groups))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	opts := []packer.Option{
		packer.WithLogger(a.log),
		packer.WithPrefetchOptions(
			prefetch.WithCapacity(a.prefetchCapacity),
			prefetch.WithTimeout(a.prefetchTimeout),
			prefetch.WithWorkerPool(pool),
		),
	}

	var pm *metrics.PackerMetrics
	if metricsconfig.Enabled(a.cfg) {
		pm = metrics.NewPackerMetrics(prometheus.DefaultRegisterer, misc.Version)
		pm.SetState(metrics.StateStarting)
		opts = append(opts, packer.WithMetrics(pm))
	}

	if natsconfig.Enabled(a.cfg) {
		w, err := a.notifier(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, packer.WithNotifier(w))
	}

	var (
		f       = a.factory()
		packers = make([]*packer.Packager, 0, len(a.groups))
	)
	for _, g := range a.groups {
		packers = append(packers, packer.New(g, st, f, a.instance, opts...))
	}

	loop := packer.NewLoop(st, a.instance, packers, a.loopDelay, a.log)

	a.log.Info("packer started",
		zap.String("instance", a.instance), zap.Int("groups", len(a.groups)),
		zap.String("version", misc.Version))

	once, _ := cmd.Flags().GetBool(onceFlag)
	if once {
		err = loop.Cycle(ctx)
	} else {
		err = a.serve(ctx, loop, pm)
	}

	if errors.Is(err, packer.ErrInterrupted) {
		return cmderr.ExitErr{Code: cmderr.CodeFailure, Cause: err}
	}

	return err
}

func (a *app) notifier(ctx context.Context) (*nats.Writer, error) {
	opts := []nats.Option{
		nats.WithLogger(a.log),
		nats.WithTopic(natsconfig.Topic(a.cfg)),
		nats.WithTimeout(natsconfig.Timeout(a.cfg)),
	}

	if natsconfig.TLSEnabled(a.cfg) {
		opts = append(opts, nats.WithClientCert(natsconfig.CertPath(a.cfg), natsconfig.KeyPath(a.cfg)))
		if ca := natsconfig.CAPath(a.cfg); ca != "" {
			opts = append(opts, nats.WithRootCA(ca))
		}
	}

	w := nats.New(opts...)

	if err := w.Connect(ctx, natsconfig.Endpoint(a.cfg)); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return w, nil
}

// serve runs the packing loop and the metrics server until ctx is done.
func (a *app) serve(ctx context.Context, loop *packer.Loop, pm *metrics.PackerMetrics) error {
	g, gctx := errgroup.WithContext(ctx)

	if pm != nil {
		srv := httputil.New(httputil.Prm{
			Address: metricsconfig.Address(a.cfg),
			Handler: promhttp.Handler(),
		}, httputil.WithShutdownTimeout(metricsconfig.ShutdownTimeout(a.cfg)))

		g.Go(func() error {
			a.log.Info("metrics server started", zap.String("address", metricsconfig.Address(a.cfg)))
			if err := srv.Serve(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			pm.SetState(metrics.StateStopping)
			return srv.Shutdown()
		})

		pm.SetState(metrics.StateReady)
	}

	g.Go(func() error {
		return loop.Run(gctx)
	})

	return g.Wait()
}
