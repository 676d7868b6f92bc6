package square

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok", "LOC1", WithHTTPClient(srv.Client()))
}

func TestRetrieveOrder_BatchRetrievesByLocation(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders/batch-retrieve", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, Version, r.Header.Get("Square-Version"))

		b, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(b, &body))
		assert.Equal(t, "LOC1", body["location_id"])
		assert.Equal(t, []any{"o-1"}, body["order_ids"])

		_, _ = io.WriteString(w, `{"orders":[{"id":"o-1","version":3,"total_money":{"amount":5000}}]}`)
	})

	doc, err := c.RetrieveOrder(context.Background(), "o-1")
	require.NoError(t, err)
	v, err := doc.Int("version")
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
	amt, _ := doc.Int("total_money.amount")
	assert.EqualValues(t, 5000, amt)
}

func TestRetrieveOrder_EmptyResultIsNotFound(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	_, err := c.RetrieveOrder(context.Background(), "o-1")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestRetrieveCustomerAndPayment(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/v2/customers/c-1":
			_, _ = io.WriteString(w, `{"customer":{"id":"c-1","given_name":"Ada","version":2}}`)
		case "/v2/payments/p-1":
			_, _ = io.WriteString(w, `{"payment":{"id":"p-1","updated_at":"2024-03-01T10:00:00Z"}}`)
		default:
			http.NotFound(w, r)
		}
	})

	cust, err := c.RetrieveCustomer(context.Background(), "c-1")
	require.NoError(t, err)
	name, _ := cust.String("given_name")
	assert.Equal(t, "Ada", name)

	pay, err := c.GetPayment(context.Background(), "p-1")
	require.NoError(t, err)
	ts, _ := pay.String("updated_at")
	assert.Equal(t, "2024-03-01T10:00:00Z", ts)

	_, err = c.RetrieveCustomer(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.GetPayment(context.Background(), "")
	assert.Error(t, err)
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errors":[{"code":"UNAUTHORIZED"}]}`)
	})
	_, err := c.RetrieveCustomer(context.Background(), "c-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, ProductionURL, BaseURL("production"))
	assert.Equal(t, SandboxURL, BaseURL("sandbox"))
	assert.Equal(t, SandboxURL, BaseURL(""))
}
