package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/govalues/decimal"

	"github.com/roach88/resendgate/internal/order"
)

// flexString accepts a JSON string or number. Order ids arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type orderEnvelope struct {
	OrderDetails *struct {
		OrderStatus  string          `json:"orderStatus"`
		OrderHistory json.RawMessage `json:"orderHistory"`
	} `json:"orderDetails"`
	Article *struct {
		ID  flexString `json:"id"`
		DOI string     `json:"doi"`
	} `json:"article"`
	Journal *struct {
		Name string `json:"name"`
	} `json:"journal"`
	PaymentDetails *struct {
		PaymentMethod      string      `json:"paymentMethod"`
		TotalChargedAmount json.Number `json:"totalChargedAmount"`
	} `json:"paymentDetails"`
}

// decodeOrder parses an order query response. A response without the
// orderDetails section is malformed.
func decodeOrder(orderID string, body []byte) (*order.Order, error) {
	var env orderEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: order %s: %v", ErrMalformed, orderID, err)
	}
	if env.OrderDetails == nil {
		return nil, fmt.Errorf("%w: order %s: orderDetails section missing", ErrMalformed, orderID)
	}

	o := &order.Order{
		ID:      orderID,
		Status:  env.OrderDetails.OrderStatus,
		History: decodeHistory(env.OrderDetails.OrderHistory),
	}
	if env.Article != nil {
		o.ArticleID = string(env.Article.ID)
		o.ArticleDOI = env.Article.DOI
	}
	if env.Journal != nil {
		o.JournalName = env.Journal.Name
	}
	if env.PaymentDetails != nil {
		o.PaymentMethod = env.PaymentDetails.PaymentMethod
		amount, err := parseAmount(string(env.PaymentDetails.TotalChargedAmount))
		if err != nil {
			return nil, fmt.Errorf("%w: order %s: totalChargedAmount: %v", ErrMalformed, orderID, err)
		}
		o.TotalCharged = amount
	}
	return o, nil
}

// decodeHistory keeps the events that decode as objects and skips the rest.
// A history that is not a list yields no events.
func decodeHistory(raw json.RawMessage) []order.Event {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	events := make([]order.Event, 0, len(items))
	for _, item := range items {
		var ev order.Event
		if err := json.Unmarshal(item, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

type productEnvelope struct {
	Journal json.RawMessage `json:"journal"`
}

// decodeProduct extracts the revenue model from the nested journal section.
// A missing or unexpected journal section leaves the model empty.
func decodeProduct(articleID string, body []byte) (*order.ProductDetails, error) {
	var env productEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: product %s: %v", ErrMalformed, articleID, err)
	}
	pd := &order.ProductDetails{ArticleID: articleID}
	if len(env.Journal) > 0 {
		var journal struct {
			RevenueModel string `json:"revenueModel"`
		}
		if err := json.Unmarshal(env.Journal, &journal); err == nil {
			pd.RevenueModel = journal.RevenueModel
		}
	}
	return pd, nil
}

type siblingEnvelope struct {
	Payload *[]json.RawMessage `json:"payload"`
}

type siblingWire struct {
	OrderUniqueID    flexString `json:"orderUniqueId"`
	OrderStatus      string     `json:"orderStatus"`
	InCancelledState bool       `json:"inCancelledState"`
}

// decodeSiblings parses the order listing of an article. Entries that do not
// decode are skipped.
func decodeSiblings(articleKey string, body []byte) ([]order.Sibling, error) {
	var env siblingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: orders of %s: %v", ErrMalformed, articleKey, err)
	}
	if env.Payload == nil {
		return nil, fmt.Errorf("%w: orders of %s: payload missing", ErrMalformed, articleKey)
	}
	siblings := make([]order.Sibling, 0, len(*env.Payload))
	for _, item := range *env.Payload {
		var w siblingWire
		if err := json.Unmarshal(item, &w); err != nil {
			continue
		}
		siblings = append(siblings, order.Sibling{
			ID:               string(w.OrderUniqueID),
			Status:           w.OrderStatus,
			InCancelledState: w.InCancelledState,
		})
	}
	return siblings, nil
}

// resendFailureDetail picks the most useful failure text from a resend
// response body, falling back to the status code.
func resendFailureDetail(status int, body []byte) string {
	var msg struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err == nil {
		if msg.Message != "" {
			return msg.Message
		}
		if msg.Error != "" {
			return msg.Error
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

func parseAmount(text string) (decimal.Decimal, error) {
	if text == "" {
		return decimal.Zero, nil
	}
	return decimal.Parse(text)
}
