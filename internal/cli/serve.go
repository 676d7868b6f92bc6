package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fishfry/internal/changefeed"
	"fishfry/internal/consumer"
	"fishfry/internal/label"
	"fishfry/internal/manifest"
	"fishfry/internal/ordermgr"
	"fishfry/internal/printer"
	"fishfry/internal/restore"
	"fishfry/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver, order pipeline and print station",
		Long: `Run every handler in one process until SIGINT or SIGTERM.

With FISHFRY_KAFKA_BOOTSTRAP set, webhook notifications go through the
square.* topics and print jobs to print_queue. Without it, notifications are
handled in-process and print jobs are spooled to FISHFRY_SPOOL_DIR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	a, err := openApp(opts, withQueue(256))
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	if cfg.StoreBackend == "memory" {
		if _, err := a.restore(SinkFile); err != nil {
			return err
		}
	}

	labels, err := a.labelManager()
	if err != nil {
		return err
	}
	orders := ordermgr.NewManager(ordermgr.NewBuilder(a.square(), a.log), a.col,
		ordermgr.WithLogger(a.log), ordermgr.WithMetrics(a.metrics))

	var pub webhook.Publisher = webhook.PublisherFunc(func(ctx context.Context, topic string, _, value []byte) error {
		if err := orders.Handle(ctx, topic, value); !errors.Is(err, ordermgr.ErrUnknownTopic) {
			return err
		}
		return nil
	})
	publishTimeout := 30 * time.Second
	var jobs changefeed.MessageWriter
	if cfg.KafkaBootstrap != "" {
		pub = webhook.NewKafkaPublisher(cfg.KafkaBootstrap)
		publishTimeout = 2 * time.Second
		w := printer.NewQueueWriter(cfg.KafkaBootstrap)
		a.closers = append(a.closers, w.Close)
		jobs = w
	} else {
		spool, err := printer.NewSpoolQueue(cfg.SpoolDir)
		if err != nil {
			return err
		}
		jobs = spool
	}
	blobs, err := label.NewFilesystemBlobStore(cfg.BlobDir)
	if err != nil {
		return err
	}
	hooks := webhook.NewHandler(cfg.WebhookKey, cfg.WebhookURL, pub,
		webhook.WithLogger(a.log), webhook.WithMetrics(a.metrics), webhook.WithPublishTimeout(publishTimeout))
	station := printer.NewStation(a.col, blobs, jobs, printer.WithLogger(a.log), printer.WithMetrics(a.metrics))

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, a.log, cfg.WebhookAddr, hooks.Router())
	serveHTTP(gctx, g, a.log, cfg.PrinterAddr, station.Router())
	serveHTTP(gctx, g, a.log, cfg.MetricsAddr, a.opsRouter())

	if cfg.KafkaBootstrap != "" {
		c, err := consumer.New(cfg.KafkaBootstrap, cfg.GroupID)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, c.Close)
		loop := consumer.NewLoop(c, orders.Handle, consumer.WithLogger(a.log),
			consumer.WithMetrics(a.metrics), consumer.WithRetryDelay(cfg.RetryDelay))
		g.Go(func() error { return loop.Run(gctx, ordermgr.Topics()) })
	}
	g.Go(func() error { return labels.Run(gctx, a.queue) })
	g.Go(func() error {
		<-gctx.Done()
		a.queue.Close()
		return nil
	})
	if cfg.SnapshotInterval > 0 {
		g.Go(func() error { return a.snapshotLoop(gctx, cfg.SnapshotInterval) })
	}

	a.log.WithFields(logrus.Fields{
		"event":   cfg.Event,
		"webhook": cfg.WebhookAddr,
		"printer": cfg.PrinterAddr,
		"metrics": cfg.MetricsAddr,
		"kafka":   cfg.KafkaBootstrap != "",
	}).Info("fishfry serving")
	err = g.Wait()
	a.log.Info("fishfry stopped")
	return err
}

// serveHTTP runs a server in g and shuts it down once ctx is done.
func serveHTTP(ctx context.Context, g *errgroup.Group, log logrus.FieldLogger, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen %s", addr)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.WithField("addr", addr).Info("shutting down http server")
		return srv.Shutdown(sctx)
	})
}

func (a *app) opsRouter() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "event": a.cfg.Event})
	})
	return mux
}

func (a *app) snapshotLoop(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.takeSnapshot(); err != nil {
				a.log.WithError(err).Error("snapshot failed")
			}
		}
	}
}

// restore loads the latest snapshot and replays the change feed written
// after it. Without a manifest the whole feed is replayed. A Kafka feed is
// replayed from its start; replay skips events the snapshot already holds.
func (a *app) restore(source string) (restore.Result, error) {
	start := time.Now()
	m, err := a.manifestReader().ReadLatest()
	if err != nil {
		a.log.WithError(err).Warn("no manifest; replaying the whole change feed")
		m = manifest.Manifest{}
	}
	r := restore.NewRestorer(a.store, a.manifestReader(), a.cfg.SnapshotDir, a.log)
	if _, err := r.RestoreFromSnapshot(m.SnapshotID); err != nil {
		return restore.Result{}, errors.Wrap(err, "restore snapshot")
	}
	var res restore.Result
	if source == SinkKafka && a.cfg.KafkaBootstrap != "" {
		res = r.ReplayFeedKafka(changefeed.Brokers(a.cfg.KafkaBootstrap), a.cfg.FeedTopic, 0)
	} else {
		res = r.ReplayFeed(a.file.Path(), m.LastFeedOffset)
	}
	if res.Error != nil {
		return res, errors.Wrap(res.Error, "replay change feed")
	}

	a.metrics.Applied.Add(float64(res.Applied))
	a.metrics.Skipped.Add(float64(res.Skipped))
	a.metrics.TTRSec.Set(time.Since(start).Seconds())
	a.metrics.LastManifestAgeSec.Set(time.Since(time.Unix(m.CreatedAtEpochSecond, 0)).Seconds())
	a.log.WithFields(logrus.Fields{
		"snapshot":    m.SnapshotID,
		"applied":     res.Applied,
		"skipped":     res.Skipped,
		"last_offset": res.LastOffset,
		"ttr_sec":     time.Since(start).Seconds(),
	}).Info("recovery finished")
	return res, nil
}
