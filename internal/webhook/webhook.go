// Package webhook receives Square webhook notifications, verifies their
// signature and republishes them to the per-type topic.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"fishfry/internal/changefeed"
	"fishfry/internal/logging"
	"fishfry/internal/metrics"
)

// SignatureHeader carries base64(HMAC-SHA1(key, url+body)).
const SignatureHeader = "X-Square-Signature"

var ErrInvalidSignature = errors.New("webhook: signature could not be validated")

// notification holds the envelope fields a delivery must carry. A nil field
// was absent from the body.
type notification struct {
	MerchantID json.RawMessage `json:"merchant_id"`
	EventID    *string         `json:"event_id"`
	Type       *string         `json:"type"`
	Data       *struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (n *notification) complete() bool {
	return n.MerchantID != nil && n.EventID != nil && n.Type != nil && n.Data != nil
}

// Topic is the topic a notification of the given type is published to.
func Topic(eventType string) string { return "square." + eventType }

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic string, key, value []byte) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, key, value []byte) error {
	return f(ctx, topic, key, value)
}

// KafkaPublisher writes each notification to its own topic.
type KafkaPublisher struct {
	writer changefeed.MessageWriter
}

// NewKafkaPublisher creates a writer without a fixed topic; every message
// names its own.
func NewKafkaPublisher(bootstrap string) *KafkaPublisher {
	return &KafkaPublisher{writer: changefeed.NewTopicWriter(bootstrap, "")}
}

// NewKafkaPublisherWith is only for tests to inject a fake writer.
func NewKafkaPublisherWith(w changefeed.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: value})
}

// Sign computes the signature Square sends for body delivered to url.
func Sign(key, url string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(url))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time.
func Verify(key, url string, body []byte, signature string) error {
	if !hmac.Equal([]byte(Sign(key, url, body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

type Handler struct {
	key       string
	publicURL string
	pub       Publisher
	timeout   time.Duration
	log       logrus.FieldLogger
	metrics   *metrics.Registry
}

type Option func(*Handler)

func WithLogger(l logrus.FieldLogger) Option { return func(h *Handler) { h.log = l } }

func WithMetrics(r *metrics.Registry) Option { return func(h *Handler) { h.metrics = r } }

// WithPublishTimeout bounds how long a publish may block the response.
func WithPublishTimeout(d time.Duration) Option { return func(h *Handler) { h.timeout = d } }

// NewHandler verifies signatures with key over publicURL, the exact URL
// Square is configured to call.
func NewHandler(key, publicURL string, pub Publisher, opts ...Option) *Handler {
	h := &Handler{key: key, publicURL: publicURL, pub: pub, timeout: 2 * time.Second, log: logging.Discard()}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/webhook", h.ServeWebhook)
	return logMiddleware(h.log, r)
}

func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	code, msg := h.serve(r)
	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(strconv.Itoa(code)).Inc()
	}
	if code != http.StatusOK {
		http.Error(w, msg, code)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, msg); err != nil {
		h.log.WithError(err).Error("write response")
	}
}

func (h *Handler) serve(r *http.Request) (int, string) {
	if r.Method != http.MethodPost {
		return http.StatusMethodNotAllowed, "POST only"
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		return http.StatusUnsupportedMediaType, "Unknown content type: " + r.Header.Get("Content-Type")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return http.StatusBadRequest, "unreadable body"
	}
	var ev notification
	if err := json.Unmarshal(body, &ev); err != nil || !ev.complete() {
		return http.StatusBadRequest, "JSON is invalid, or missing required property"
	}
	if err := Verify(h.key, h.publicURL, body, r.Header.Get(SignatureHeader)); err != nil {
		return http.StatusForbidden, err.Error()
	}

	orderID, topic, eventID := ev.Data.ID, *ev.Type, *ev.EventID
	log := logging.WithOrder(h.log, orderID).WithFields(logrus.Fields{"type": topic, "event_id": eventID})
	if ts := r.Header.Get("Square-Initial-Delivery-Timestamp"); ts != "" {
		log.WithField("initial_delivery", ts).Info("delivery time of initial notification")
	}
	if n := r.Header.Get("Square-Retry-Number"); n != "" {
		log.WithFields(logrus.Fields{"retry_number": n, "retry_reason": r.Header.Get("Square-Retry-Reason")}).
			Warn("square has resent this notification")
	}
	log.Info("webhook received")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.pub.Publish(ctx, Topic(topic), []byte(orderID), body); err != nil {
		log.WithError(err).Error("publishing notification failed")
		return http.StatusInternalServerError, "error publishing notification"
	}
	if h.metrics != nil {
		h.metrics.WebhookPublished.Inc()
	}
	return http.StatusOK, eventID
}

func logMiddleware(log logrus.FieldLogger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(logrus.Fields{
			"method":     r.Method,
			"url":        r.URL.String(),
			"remoteAddr": r.RemoteAddr,
			"userAgent":  r.UserAgent(),
		}).Debug("got a new request")
		h.ServeHTTP(w, r)
	})
}
