package cli

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"fishfry/internal/order"
)

// EnvPrefix prefixes every environment variable Config reads.
const EnvPrefix = "FISHFRY"

// Sink values for the change feed and manifest.
const (
	SinkFile  = "file"
	SinkKafka = "kafka"
	SinkBoth  = "both"
)

// Config is read from FISHFRY_* environment variables.
type Config struct {
	Event    string `envconfig:"EVENT" default:"2024-03-01"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	MenuFile string `envconfig:"MENU_FILE"`

	KafkaBootstrap string `envconfig:"KAFKA_BOOTSTRAP"`
	GroupID        string `envconfig:"GROUP_ID" default:"fishfry"`
	FeedTopic      string `envconfig:"FEED_TOPIC" default:"fishfry.changes"`
	ManifestTopic  string `envconfig:"MANIFEST_TOPIC" default:"fishfry.snapshots"`
	FeedSink       string `envconfig:"FEED_SINK" default:"file"`
	ManifestSink   string `envconfig:"MANIFEST_SINK" default:"file"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"pebble"`
	StoreDir     string `envconfig:"STORE_DIR" default:"./data/documents"`
	FeedDir      string `envconfig:"FEED_DIR" default:"./data/feed"`
	BlobDir      string `envconfig:"BLOB_DIR" default:"./data/labels"`
	SpoolDir     string `envconfig:"SPOOL_DIR" default:"./data/print"`

	OrdersDriver string `envconfig:"ORDERS_DRIVER" default:"sqlite3"`
	OrdersDSN    string `envconfig:"ORDERS_DSN" default:"./data/orders.db"`
	MirrorDSN    string `envconfig:"MIRROR_DSN"`

	SquareToken    string `envconfig:"SQUARE_TOKEN"`
	SquareEnv      string `envconfig:"SQUARE_ENV" default:"sandbox"`
	SquareLocation string `envconfig:"SQUARE_LOCATION"`

	WebhookKey string `envconfig:"WEBHOOK_KEY"`
	WebhookURL string `envconfig:"WEBHOOK_URL"`

	WebhookAddr string `envconfig:"WEBHOOK_ADDR" default:":8000"`
	PrinterAddr string `envconfig:"PRINTER_ADDR" default:":8001"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":8080"`

	SnapshotDir      string        `envconfig:"SNAPSHOT_DIR" default:"./data/snapshots"`
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"60s"`
	RetryDelay       time.Duration `envconfig:"RETRY_DELAY" default:"1s"`
}

// LoadConfig reads the environment. Callers validate after applying any
// overrides.
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, errors.Wrap(err, "config")
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "pebble", "badger":
	default:
		return errors.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	for _, s := range []string{c.FeedSink, c.ManifestSink} {
		switch s {
		case SinkFile, SinkKafka, SinkBoth:
		default:
			return errors.Errorf("config: unknown sink %q", s)
		}
	}
	if c.Event == "" {
		return errors.New("config: event is required")
	}
	return nil
}

// UsesKafka reports whether sink s publishes to Kafka.
func (c Config) UsesKafka(s string) bool {
	return c.KafkaBootstrap != "" && (s == SinkKafka || s == SinkBoth)
}

// Menu loads the menu file, or the built-in menu when none is set.
func (c Config) Menu() (order.Menu, error) {
	if c.MenuFile == "" {
		return order.DefaultMenu(), nil
	}
	return order.LoadMenu(c.MenuFile)
}
