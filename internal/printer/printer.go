// Package printer serves the check-in station: it queues label print jobs
// and records pickups and cancellations on the order documents.
package printer

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"fishfry/internal/changefeed"
	"fishfry/internal/docstore"
	"fishfry/internal/document"
	"fishfry/internal/label"
	"fishfry/internal/logging"
	"fishfry/internal/metrics"
	"fishfry/internal/order"
)

// Topic receives one message per print job.
const Topic = "print_queue"

// TimeLayout formats check-in and print times.
const TimeLayout = "01/02/2006 15:04:05"

// Job is the order row the station asks to print.
type Job struct {
	ID          string `json:"id"`
	LabelURL    string `json:"label_url"`
	OrderNumber string `json:"square_order_number"`
	CheckinTime string `json:"checkin_time"`
}

type printRequest struct {
	Data Job `json:"Data"`
}

type Station struct {
	col     *docstore.Collection
	blobs   label.BlobStore
	queue   changefeed.MessageWriter
	log     logrus.FieldLogger
	metrics *metrics.Registry
	now     func() time.Time
	newID   func() string
}

type Option func(*Station)

func WithLogger(l logrus.FieldLogger) Option { return func(s *Station) { s.log = l } }

func WithMetrics(r *metrics.Registry) Option { return func(s *Station) { s.metrics = r } }

func WithClock(now func() time.Time) Option { return func(s *Station) { s.now = now } }

// NewQueueWriter returns the Kafka writer for print jobs.
func NewQueueWriter(bootstrap string) *kafka.Writer {
	return changefeed.NewTopicWriter(bootstrap, Topic)
}

func NewStation(col *docstore.Collection, blobs label.BlobStore, queue changefeed.MessageWriter, opts ...Option) *Station {
	s := &Station{
		col:   col,
		blobs: blobs,
		queue: queue,
		log:   logging.Discard(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Station) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/print", s.ServePrint).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}/cancel", s.ServeCancel).Methods(http.MethodPost)
	return r
}

type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func fail(code int, msg string) error { return &httpError{code: code, msg: msg} }

func (s *Station) ServePrint(w http.ResponseWriter, r *http.Request) {
	var req printRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data.ID == "" {
		s.reply(w, nil, fail(http.StatusBadRequest, "JSON is invalid, or missing required property"))
		return
	}
	reprint, _ := strconv.ParseBool(r.URL.Query().Get("reprint"))
	jobID, err := s.Print(r.Context(), req.Data, reprint)
	s.reply(w, map[string]string{"job_id": jobID}, err)
}

// Print queues the job's label. A first print marks the order ARRIVED.
func (s *Station) Print(ctx context.Context, job Job, reprint bool) (string, error) {
	log := logging.WithOrder(s.log, job.ID).WithField("reprint", reprint)
	if job.CheckinTime != "" && !reprint {
		return "", fail(http.StatusBadRequest, "order has already been printed")
	}
	if job.LabelURL == "" {
		return "", fail(http.StatusBadRequest, "order has no label")
	}
	env, err := s.col.Fetch(ctx, job.ID)
	if err != nil {
		return "", err
	}
	status := pickupStatus(env.Doc)
	if status == order.Cancelled {
		return "", fail(http.StatusConflict, "order is cancelled")
	}
	data, err := s.blobs.Get(job.LabelURL)
	if err != nil {
		return "", err
	}

	jobID := s.newID()
	msg := kafka.Message{
		Key:   []byte(job.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "son", Value: []byte(job.OrderNumber)},
			{Key: "reprint", Value: []byte(strconv.FormatBool(reprint))},
			{Key: "job_id", Value: []byte(jobID)},
		},
	}
	if err := s.queue.WriteMessages(ctx, msg); err != nil {
		return "", errors.Wrap(err, "queue print job")
	}
	if s.metrics != nil {
		s.metrics.PrintJobs.WithLabelValues(strconv.FormatBool(reprint)).Inc()
	}
	log.WithField("job_id", jobID).Info("print job queued")

	now := s.now().Format(TimeLayout)
	times, _ := env.Doc.Slice("print_times")
	fields := map[string]any{"print_times": append(append([]any{}, times...), now)}
	if !reprint && status.CanTransition(order.Arrived) {
		fields["pickup.status"] = order.Arrived.String()
		fields["pickup.checkin_time"] = now
	}
	if _, _, err := s.col.Update(ctx, job.ID, fields); err != nil {
		return jobID, errors.Wrap(err, "record pickup")
	}
	return jobID, nil
}

func (s *Station) ServeCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.Cancel(r.Context(), id)
	s.reply(w, map[string]string{"id": id, "status": order.Cancelled.String()}, err)
}

// Cancel moves the order's pickup to CANCELLED when its status allows it.
func (s *Station) Cancel(ctx context.Context, id string) error {
	env, err := s.col.Fetch(ctx, id)
	if err != nil {
		return err
	}
	status := pickupStatus(env.Doc)
	if !status.CanTransition(order.Cancelled) {
		return fail(http.StatusConflict, "cannot cancel an order that is "+status.String())
	}
	if _, _, err := s.col.Update(ctx, id, map[string]any{"pickup.status": order.Cancelled.String()}); err != nil {
		return err
	}
	logging.WithOrder(s.log, id).Info("order cancelled")
	return nil
}

func (s *Station) reply(w http.ResponseWriter, body any, err error) {
	if err != nil {
		code := http.StatusInternalServerError
		var he *httpError
		switch {
		case errors.As(err, &he):
			code = he.code
		case errors.Is(err, docstore.ErrNotFound), errors.Is(err, label.ErrNotFound):
			code = http.StatusNotFound
		default:
			s.log.WithError(err).Error("print station request failed")
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Error("write response")
	}
}

func pickupStatus(doc document.Document) order.Status {
	token, _ := doc.String("pickup.status")
	return order.ParseStatus(token)
}
