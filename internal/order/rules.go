package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fishfry/internal/document"
	"fishfry/internal/fieldpath"
)

// RuleID names one derivation rule.
type RuleID int

const (
	RuleOrderID RuleID = iota
	RuleCreatedAt
	RuleLabelNumber
	RuleReferenceNumber
	RuleReceiptURL
	RulePickupWindow
	RuleCustomerName
	RuleLastName
	RulePhoneNumber
	RuleItemCounts
	RuleDonations
	RuleTip
	RuleTotal
	RuleFees
	RuleNote
	RuleStatus
	RuleCheckinTime
	numRules
)

type deriveFunc func(m *Menu, r *Record, doc document.Document) error

type rule struct {
	name string
	// labelAffecting rules derive something printed on the label.
	labelAffecting bool
	derive         deriveFunc
}

var rules = [numRules]rule{
	RuleOrderID:         {"id", false, deriveOrderID},
	RuleCreatedAt:       {"created_at", false, deriveCreatedAt},
	RuleLabelNumber:     {"label_number", false, deriveLabelNumber},
	RuleReferenceNumber: {"square_order_number", true, deriveReferenceNumber},
	RuleReceiptURL:      {"receipt_url", false, deriveReceiptURL},
	RulePickupWindow:    {"pickup_window", false, derivePickupWindow},
	RuleCustomerName:    {"customer_name", true, deriveCustomerName},
	RuleLastName:        {"last_name", false, deriveLastName},
	RulePhoneNumber:     {"phone_number", true, derivePhoneNumber},
	RuleItemCounts:      {"item_counts", true, deriveItemCounts},
	RuleDonations:       {"donations", false, deriveDonations},
	RuleTip:             {"tip", false, deriveTip},
	RuleTotal:           {"total", true, deriveTotal},
	RuleFees:            {"fees", false, deriveFees},
	RuleNote:            {"note", true, deriveNote},
	RuleStatus:          {"status", false, deriveStatus},
	RuleCheckinTime:     {"checkin_time", false, deriveCheckinTime},
}

func (id RuleID) valid() bool { return id >= 0 && id < numRules }

func (id RuleID) String() string {
	if !id.valid() {
		return fmt.Sprintf("RuleID(%d)", int(id))
	}
	return rules[id].name
}

// LabelAffecting reports whether the rule's attribute is printed on the label.
func (id RuleID) LabelAffecting() bool { return id.valid() && rules[id].labelAffecting }

// AllRules lists every rule in construction order.
func AllRules() []RuleID {
	out := make([]RuleID, numRules)
	for i := range out {
		out[i] = RuleID(i)
	}
	return out
}

// Triggers is the table of document field paths that govern each rule.
func Triggers() *fieldpath.Table[RuleID] {
	on := fieldpath.On[RuleID]
	return fieldpath.NewTable(
		on("order.id", RuleOrderID),
		on("order.created_at", RuleCreatedAt),
		on("order_number", RuleLabelNumber, RuleReferenceNumber),
		on("payment.reference_id", RuleReferenceNumber),
		on("payment.receipt_url", RuleReceiptURL),
		on("order.line_items*", RulePickupWindow, RuleItemCounts, RuleDonations),
		on("order.fulfillments*", RuleCustomerName, RuleLastName, RulePhoneNumber, RuleNote),
		on("customer.given_name", RuleCustomerName, RuleLastName),
		on("customer.family_name", RuleCustomerName, RuleLastName),
		on("customer.phone_number", RulePhoneNumber),
		on("payment.shipping_address*", RuleCustomerName, RuleLastName),
		on("order.total_tip_money.amount", RuleTip),
		on("order.total_money.amount", RuleTotal),
		on("payment.processing_fee*", RuleFees),
		on("order.note", RuleNote),
		on("pickup*", RuleStatus, RuleCheckinTime),
	)
}

const (
	unknownName   = "unknown"
	recipientPath = "order.fulfillments.0.pickup_details.recipient"
	pickupNote    = "order.fulfillments.0.pickup_details.note"
)

func deriveOrderID(_ *Menu, r *Record, doc document.Document) error {
	id, err := doc.String("order.id")
	if err != nil {
		return err
	}
	if r.ID != "" && r.ID != id {
		return errors.Errorf("order id is immutable: record has %q, document has %q", r.ID, id)
	}
	r.ID = id
	return nil
}

func deriveCreatedAt(_ *Menu, r *Record, doc document.Document) error {
	s, err := doc.String("order.created_at")
	if err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return errors.Wrap(err, "order.created_at")
	}
	t = t.UTC()
	r.CreatedAt = &t
	return nil
}

func deriveLabelNumber(_ *Menu, r *Record, doc document.Document) error {
	n, err := doc.Int("order_number")
	if err != nil {
		return err
	}
	if r.LabelNumber != 0 && r.LabelNumber != n {
		return errors.Errorf("label number already assigned: %d", r.LabelNumber)
	}
	r.LabelNumber = n
	return nil
}

func deriveReferenceNumber(_ *Menu, r *Record, doc document.Document) error {
	if v, err := doc.Get("payment.reference_id"); err == nil {
		r.ReferenceNumber = fmt.Sprint(v)
		return nil
	}
	n, err := doc.Int("order_number")
	if err != nil {
		return err
	}
	r.ReferenceNumber = fmt.Sprint(n)
	return nil
}

func deriveReceiptURL(_ *Menu, r *Record, doc document.Document) error {
	// An order without a single tender carries an empty payment.
	if p, err := doc.Map("payment"); err != nil || len(p) == 0 {
		return nil
	}
	u, err := doc.String("payment.receipt_url")
	if err != nil {
		return err
	}
	r.ReceiptURL = u
	return nil
}

func derivePickupWindow(m *Menu, r *Record, doc document.Document) error {
	window := m.PickupWindow.Default
	if len(m.PickupWindow.Items) > 0 {
		items, err := doc.Objects("order.line_items")
		if err != nil {
			return err
		}
		earliest := ""
		for _, item := range items {
			name, _ := item.String("name")
			if !contains(m.PickupWindow.Items, name) {
				continue
			}
			v, _ := item.String("variation_name")
			if v != "" && (earliest == "" || v < earliest) {
				earliest = v
			}
		}
		if earliest != "" {
			window = earliest
		}
	}
	r.PickupWindow = window
	return nil
}

func deriveCustomerName(_ *Menu, r *Record, doc document.Document) error {
	given, family := resolveName(doc)
	r.CustomerName = titleCase(strings.TrimSpace(given + " " + family))
	return nil
}

func deriveLastName(_ *Menu, r *Record, doc document.Document) error {
	_, family := resolveName(doc)
	r.LastName = titleCase(family)
	return nil
}

// resolveName picks the customer's names from the customer record, then
// the pickup recipient, then the payment shipping address.
func resolveName(doc document.Document) (given, family string) {
	given, family = customerNames(doc)
	if given != "" && family != "" {
		return given, family
	}
	if g, f, ok := recipientNames(doc); ok {
		return g, f
	}
	if g, f, ok := shippingNames(doc); ok {
		return g, f
	}
	return given, family
}

var phoneScrubber = strings.NewReplacer("+", "", "-", "")

// NormalizePhone strips the '+' and '-' characters from a phone number.
func NormalizePhone(phone string) string {
	return phoneScrubber.Replace(strings.TrimSpace(phone))
}

func derivePhoneNumber(_ *Menu, r *Record, doc document.Document) error {
	phone, _ := doc.String("customer.phone_number")
	if !validName(phone) {
		phone, _ = doc.String(recipientPath + ".phone_number")
	}
	if !validName(phone) {
		phone = ""
	}
	r.PhoneNumber = NormalizePhone(phone)
	return nil
}

func deriveItemCounts(m *Menu, r *Record, doc document.Document) error {
	items, err := doc.Objects("order.line_items")
	if err != nil {
		return err
	}
	counts := make(Counters, len(m.Counters))
	for _, c := range m.Counters {
		counts[c] = 0
	}
	for i, item := range items {
		name, _ := item.String("name")
		feeds, ok := m.Products[name]
		if !ok {
			continue
		}
		qty, err := item.Int("quantity")
		if err != nil {
			return errors.Wrapf(err, "line item %d", i)
		}
		for _, c := range feeds {
			counts[c] += qty
		}
	}
	r.Counts = counts
	return nil
}

func deriveDonations(m *Menu, r *Record, doc document.Document) error {
	items, err := doc.Objects("order.line_items")
	if err != nil {
		return err
	}
	var cents int64
	for i, item := range items {
		if name, _ := item.String("name"); name != m.DonationProduct || name == "" {
			continue
		}
		amount, err := item.Int("total_money.amount")
		if err != nil {
			return errors.Wrapf(err, "line item %d", i)
		}
		cents += amount
	}
	r.Donations = float64(cents) / 100
	return nil
}

func deriveTip(_ *Menu, r *Record, doc document.Document) error {
	v, err := money(doc, "order.total_tip_money.amount")
	if err != nil {
		return err
	}
	r.Tip = v
	return nil
}

func deriveTotal(_ *Menu, r *Record, doc document.Document) error {
	v, err := money(doc, "order.total_money.amount")
	if err != nil {
		return err
	}
	r.Total = v
	return nil
}

func deriveFees(_ *Menu, r *Record, doc document.Document) error {
	v, err := money(doc, "payment.processing_fee.0.amount_money.amount")
	if err != nil {
		return err
	}
	r.Fees = v
	return nil
}

func deriveNote(_ *Menu, r *Record, doc document.Document) error {
	note, err := doc.String("order.note")
	if err != nil && !document.IsMissing(err) {
		return err
	}
	if note == "" {
		note, err = doc.String(pickupNote)
		if err != nil && !document.IsMissing(err) {
			return err
		}
	}
	r.Note = note
	return nil
}

func deriveStatus(_ *Menu, r *Record, doc document.Document) error {
	token, _ := doc.String("pickup.status")
	r.Status = ParseStatus(token)
	return nil
}

func deriveCheckinTime(_ *Menu, r *Record, doc document.Document) error {
	v, err := doc.Get("pickup.checkin_time")
	if err != nil {
		r.CheckinTime = nil
		return nil
	}
	s := fmt.Sprint(v)
	r.CheckinTime = &s
	return nil
}

// money converts an integer minor-unit amount to major units.
func money(doc document.Document, path string) (float64, error) {
	cents, err := doc.Int(path)
	if err != nil {
		return 0, err
	}
	return float64(cents) / 100, nil
}

func validName(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, unknownName)
}

// customerNames returns the customer record's names, blanking sentinels.
func customerNames(doc document.Document) (given, family string) {
	given, _ = doc.String("customer.given_name")
	family, _ = doc.String("customer.family_name")
	if !validName(given) {
		given = ""
	}
	if !validName(family) {
		family = ""
	}
	return strings.TrimSpace(given), strings.TrimSpace(family)
}

// recipientNames splits the pickup recipient's display name on its last
// whitespace boundary.
func recipientNames(doc document.Document) (given, family string, ok bool) {
	display, _ := doc.String(recipientPath + ".display_name")
	tokens := strings.Fields(display)
	if len(tokens) == 0 {
		return "", "", false
	}
	return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1], true
}

func shippingNames(doc document.Document) (given, family string, ok bool) {
	given, _ = doc.String("payment.shipping_address.first_name")
	family, _ = doc.String("payment.shipping_address.last_name")
	given, family = strings.TrimSpace(given), strings.TrimSpace(family)
	return given, family, given != "" || family != ""
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
