// Package square fetches order, customer and payment objects from the Square
// Connect API as normalized documents.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fishfry/internal/document"
	"fishfry/internal/logging"
)

// Version is the Square API version requests are pinned to.
const Version = "2022-09-21"

const (
	ProductionURL = "https://connect.squareup.com"
	SandboxURL    = "https://connect.squareupsandbox.com"
)

var ErrNotFound = errors.New("square: object not found")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("square: status %d: %s", e.Status, e.Body)
}

type API interface {
	RetrieveOrder(ctx context.Context, orderID string) (document.Document, error)
	RetrieveCustomer(ctx context.Context, customerID string) (document.Document, error)
	GetPayment(ctx context.Context, paymentID string) (document.Document, error)
}

// BaseURL maps an environment name to its API host.
func BaseURL(environment string) string {
	if strings.EqualFold(environment, "production") {
		return ProductionURL
	}
	return SandboxURL
}

type Client struct {
	baseURL  string
	token    string
	location string
	http     *http.Client
	log      logrus.FieldLogger
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

func WithLogger(l logrus.FieldLogger) ClientOption { return func(c *Client) { c.log = l } }

func NewClient(baseURL, token, location string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		location: location,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      logging.Discard(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RetrieveOrder uses batch-retrieve scoped to the configured location.
func (c *Client) RetrieveOrder(ctx context.Context, orderID string) (document.Document, error) {
	body := map[string]any{"location_id": c.location, "order_ids": []string{orderID}}
	resp, err := c.do(ctx, http.MethodPost, "/v2/orders/batch-retrieve", body)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieve order %s", orderID)
	}
	orders, err := resp.Objects("orders")
	if err != nil || len(orders) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "order %s", orderID)
	}
	logging.WithOrder(c.log, orderID).Debug("fetched order from square")
	return orders[0], nil
}

func (c *Client) RetrieveCustomer(ctx context.Context, customerID string) (document.Document, error) {
	return c.object(ctx, "/v2/customers/"+url.PathEscape(customerID), "customer")
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (document.Document, error) {
	if paymentID == "" {
		return nil, errors.New("square: empty payment id")
	}
	return c.object(ctx, "/v2/payments/"+url.PathEscape(paymentID), "payment")
}

func (c *Client) object(ctx context.Context, path, key string) (document.Document, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	obj, err := resp.Map(key)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "%s in response", key)
	}
	return document.Document(obj), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (document.Document, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Square-Version", Version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return document.Decode(data)
}
