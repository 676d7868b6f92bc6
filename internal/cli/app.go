package cli

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fishfry/internal/changefeed"
	"fishfry/internal/docstore"
	"fishfry/internal/label"
	"fishfry/internal/labelmgr"
	"fishfry/internal/logging"
	"fishfry/internal/manifest"
	"fishfry/internal/metrics"
	"fishfry/internal/order"
	"fishfry/internal/orderstore"
	"fishfry/internal/snapshot"
	"fishfry/internal/square"
	"fishfry/internal/syncengine"
)

// app holds the components a command opened. Close releases them in reverse
// order.
type app struct {
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Registry
	menu    order.Menu
	store   docstore.Store
	file    *changefeed.FileWriter
	queue   *changefeed.Queue
	col     *docstore.Collection
	closers []func() error
}

type appOption func(*app)

// withQueue delivers committed writes to the label manager in-process.
func withQueue(size int) appOption {
	return func(a *app) { a.queue = changefeed.NewQueue(size) }
}

func openApp(opts *RootOptions, appOpts ...appOption) (*app, error) {
	a := &app{cfg: opts.Config, log: logging.Discard(), metrics: metrics.NewRegistry()}
	if opts.Log != nil {
		a.log = opts.Log
	}
	for _, o := range appOpts {
		o(a)
	}
	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open() error {
	var err error
	if a.menu, err = a.cfg.Menu(); err != nil {
		return err
	}
	if a.store, err = openStore(a.cfg); err != nil {
		return err
	}
	a.closers = append(a.closers, a.store.Close)

	if a.file, err = changefeed.NewFileWriter(a.cfg.FeedDir, feedFile(a.cfg.Event)); err != nil {
		return errors.Wrap(err, "change feed file")
	}
	writers := []changefeed.Writer{a.file}
	if a.queue != nil {
		writers = append(writers, a.queue)
		a.closers = append(a.closers, func() error { a.queue.Close(); return nil })
	}
	if a.cfg.UsesKafka(a.cfg.FeedSink) {
		writers = append(writers, changefeed.NewKafkaWriter(a.cfg.KafkaBootstrap, a.cfg.FeedTopic))
	}
	a.col = docstore.NewCollection(a.store, a.cfg.Event, changefeed.NewMultiWriter(writers...),
		docstore.WithCollectionLogger(a.log))
	return nil
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func openStore(cfg Config) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return docstore.NewInMemoryStore(), nil
	case "badger":
		return docstore.NewBadgerStore(cfg.StoreDir)
	default:
		return docstore.NewPebbleStore(cfg.StoreDir)
	}
}

func feedFile(event string) string { return event + ".jsonl" }

func (a *app) deriver() *order.Deriver {
	return order.NewDeriver(a.menu, a.log, order.WithRuleHook(a.metrics.RuleHook))
}

func (a *app) square() *square.Client {
	return square.NewClient(square.BaseURL(a.cfg.SquareEnv), a.cfg.SquareToken, a.cfg.SquareLocation,
		square.WithLogger(a.log))
}

// labelManager opens the primary store, the optional mirror and the label
// blob store.
func (a *app) labelManager() (*labelmgr.Manager, error) {
	primary, err := orderstore.Open(a.cfg.OrdersDriver, a.cfg.OrdersDSN)
	if err != nil {
		return nil, errors.Wrap(err, "primary store")
	}
	a.closers = append(a.closers, primary.Close)
	opts := []labelmgr.Option{labelmgr.WithLogger(a.log), labelmgr.WithMetrics(a.metrics)}
	if a.cfg.MirrorDSN != "" {
		mirror, err := orderstore.Open(orderstore.SQLite, a.cfg.MirrorDSN)
		if err != nil {
			return nil, errors.Wrap(err, "mirror store")
		}
		a.closers = append(a.closers, mirror.Close)
		opts = append(opts, labelmgr.WithMirror(mirror))
	}
	blobs, err := label.NewFilesystemBlobStore(a.cfg.BlobDir)
	if err != nil {
		return nil, err
	}
	d := a.deriver()
	engine := syncengine.New(d, syncengine.WithLogger(a.log))
	return labelmgr.New(a.col, d, engine, label.NewTextRenderer(a.menu), blobs, primary, opts...), nil
}

func (a *app) manifestPublisher() manifest.Publisher {
	fs := manifest.NewFilesystemManifest(a.cfg.SnapshotDir)
	if !a.cfg.UsesKafka(a.cfg.ManifestSink) {
		return fs
	}
	k := manifest.NewKafkaManifest(a.cfg.KafkaBootstrap, a.cfg.ManifestTopic, manifest.DefaultKey)
	if a.cfg.ManifestSink == SinkKafka {
		return k
	}
	return manifest.MultiPublisher{fs, k}
}

func (a *app) manifestReader() manifest.Reader {
	if a.cfg.ManifestSink == SinkKafka && a.cfg.KafkaBootstrap != "" {
		return manifest.NewKafkaReader(changefeed.Brokers(a.cfg.KafkaBootstrap), a.cfg.ManifestTopic, manifest.DefaultKey)
	}
	return manifest.NewFilesystemManifest(a.cfg.SnapshotDir)
}

// takeSnapshot dumps the store and publishes the manifest. The feed offset
// is read before the dump so a replay from it never misses a write.
func (a *app) takeSnapshot() (manifest.Manifest, error) {
	offset, err := a.file.Offset()
	if err != nil {
		return manifest.Manifest{}, errors.Wrap(err, "feed offset")
	}
	id := time.Now().UTC().Format(time.RFC3339)
	n, err := snapshot.NewFilesystemSnapshotter(a.cfg.SnapshotDir).WriteSnapshot(id, a.store)
	if err != nil {
		return manifest.Manifest{}, errors.Wrap(err, "write snapshot")
	}
	if err := a.manifestPublisher().PublishLatest(id, offset, n); err != nil {
		return manifest.Manifest{}, errors.Wrap(err, "publish manifest")
	}
	a.metrics.SnapshotDocuments.Set(float64(n))
	a.log.WithFields(logrus.Fields{"snapshot": id, "offset": offset, "documents": n}).Info("snapshot and manifest published")
	return manifest.Manifest{SnapshotID: id, LastFeedOffset: offset, Documents: n}, nil
}
