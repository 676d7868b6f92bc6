// Package logging configures structured JSON logs in the layout the hosting
// log collector expects (message/severity/timestamp keys).
package logging

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// OrderField labels every entry written while handling a single order.
const OrderField = "square_order_id"

// Setup returns a logger writing JSON to out at the given level name.
func Setup(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyTime:  "timestamp",
		},
	})
	return l, nil
}

// WithOrder scopes a logger to an order id. An empty id leaves it unchanged.
func WithOrder(l logrus.FieldLogger, id string) logrus.FieldLogger {
	if id == "" {
		return l
	}
	return l.WithField(OrderField, id)
}

// Discard is a logger for tests and tools that want no output.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
