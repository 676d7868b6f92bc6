package ordermgr

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fishfry/internal/document"
	"fishfry/internal/logging"
	"fishfry/internal/square"
)

// FauxCustomerVersion marks a customer synthesized from the order itself.
const FauxCustomerVersion = -1

var phoneJunk = regexp.MustCompile(`\+1|-|\(|\)|\s`)

// Builder assembles the {order, customer, payment} document of one order
// from the Square API.
type Builder struct {
	api square.API
	log logrus.FieldLogger
}

func NewBuilder(api square.API, log logrus.FieldLogger) *Builder {
	if log == nil {
		log = logging.Discard()
	}
	return &Builder{api: api, log: log}
}

// Build fetches the order and whatever of customer and payment was not
// supplied. An empty customerID is resolved from the order.
func (b *Builder) Build(ctx context.Context, orderID string, payment document.Document, customerID string) (document.Document, error) {
	if orderID == "" {
		return nil, errors.New("ordermgr: build needs an order id")
	}
	log := logging.WithOrder(b.log, orderID)
	log.Info("fetching information from Square")

	ord, err := b.api.RetrieveOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var customer document.Document
	if customerID == "" {
		customerID = CustomerID(ord)
	}
	// Square is eventually consistent; the customer id may show up on a
	// second read.
	if customerID == "" {
		log.Info("customer_id couldn't be found, trying again")
		if ord, err = b.api.RetrieveOrder(ctx, orderID); err != nil {
			return nil, err
		}
		if customerID = CustomerID(ord); customerID == "" {
			log.Info("customer_id still couldn't be found, creating faux customer")
			customer = FauxCustomer(ord)
		}
	}
	if customer == nil {
		if customer, err = b.api.RetrieveCustomer(ctx, customerID); err != nil {
			return nil, errors.Wrapf(err, "customer %s", customerID)
		}
	}

	if payment == nil {
		paymentID := PaymentID(ord)
		if paymentID == "" {
			log.Warn("order has no single tender; storing without payment")
			payment = document.Document{}
		} else if payment, err = b.api.GetPayment(ctx, paymentID); err != nil {
			return nil, errors.Wrapf(err, "payment %s", paymentID)
		}
	}

	return document.Document{
		"order":    map[string]any(ord),
		"customer": map[string]any(customer),
		"payment":  map[string]any(payment),
	}, nil
}

// CustomerID extracts the customer id of an order. In-person orders have no
// fulfillments and carry it directly; pickup and digital orders only count
// when the first fulfillment is of those types.
func CustomerID(ord document.Document) string {
	id, _ := ord.String("customer_id")
	if !ord.Has("fulfillments") {
		return id
	}
	switch t, _ := ord.String("fulfillments.0.type"); t {
	case "PICKUP", "DIGITAL":
		return id
	}
	return ""
}

// FauxCustomer builds a customer from the pickup recipient of an order.
func FauxCustomer(ord document.Document) document.Document {
	customer := document.Document{
		"given_name":   "unknown",
		"family_name":  "unknown",
		"phone_number": "",
		"version":      FauxCustomerVersion,
	}
	if !ord.Has("fulfillments") {
		return customer
	}
	if t, _ := ord.String("fulfillments.0.type"); t == "DIGITAL" {
		return customer
	}
	display, _ := ord.String("fulfillments.0.pickup_details.recipient.display_name")
	tokens := strings.Split(display, " ")

	phone := "unknown"
	if p, _ := ord.String("fulfillments.0.pickup_details.recipient.phone_number"); p != "" {
		phone = phoneJunk.ReplaceAllString(p, "")
	}
	customer["given_name"] = strings.Join(tokens[:len(tokens)-1], " ")
	customer["family_name"] = tokens[len(tokens)-1]
	customer["phone_number"] = phone
	return customer
}

// PaymentID is the id of the order's tender when it has exactly one.
func PaymentID(ord document.Document) string {
	tenders, err := ord.Objects("tenders")
	if err != nil || len(tenders) != 1 {
		return ""
	}
	id, _ := tenders[0].String("id")
	return id
}
