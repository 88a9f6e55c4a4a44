package gateway

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/govalues/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/resendgate/internal/order"
)

// Snapshot is a frozen copy of the remote state, as read from a YAML file.
//
// Orders and products are keyed by their ids; sibling lists are keyed by the
// cross-reference key (the article id without its "PD" prefix). Resend maps
// order ids to the outcome SubmitResend reports; orders not listed succeed.
type Snapshot struct {
	Orders   map[string]SnapshotOrder     `yaml:"orders"`
	Products map[string]SnapshotProduct   `yaml:"products"`
	Siblings map[string][]SnapshotSibling `yaml:"siblings"`
	Resend   map[string]SnapshotResend    `yaml:"resend"`
}

// SnapshotOrder is one order in a snapshot.
type SnapshotOrder struct {
	Status        string        `yaml:"status"`
	ArticleID     string        `yaml:"article_id"`
	ArticleDOI    string        `yaml:"article_doi"`
	JournalName   string        `yaml:"journal_name"`
	PaymentMethod string        `yaml:"payment_method"`
	TotalCharged  yamlAmount    `yaml:"total_charged"`
	History       []order.Event `yaml:"history"`

	// Malformed makes FetchOrder fail as if orderDetails were missing.
	Malformed bool `yaml:"malformed"`

	// Unavailable makes FetchOrder fail as if the service were unreachable.
	Unavailable bool `yaml:"unavailable"`
}

// SnapshotProduct is the product metadata of one article.
type SnapshotProduct struct {
	DOI          string `yaml:"doi"`
	RevenueModel string `yaml:"revenue_model"`
	Unavailable  bool   `yaml:"unavailable"`
}

// SnapshotSibling is one entry of an article's order listing.
type SnapshotSibling struct {
	ID               string `yaml:"id"`
	Status           string `yaml:"status"`
	InCancelledState bool   `yaml:"in_cancelled_state"`
}

// SnapshotResend is the scripted outcome of a resend request.
type SnapshotResend struct {
	Fail   bool   `yaml:"fail"`
	Detail string `yaml:"detail"`
}

// yamlAmount decodes a scalar such as 0, 12.50 or "150.00" into a decimal
// without going through float64.
type yamlAmount struct {
	decimal.Decimal
}

func (a *yamlAmount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	d, err := parseAmount(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: amount %q: %w", node.Line, node.Value, err)
	}
	a.Decimal = d
	return nil
}

// LoadSnapshot reads a snapshot file. Unknown fields are rejected.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot decodes snapshot YAML.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

// FixtureGateway serves a Snapshot. It never changes the snapshot, so
// evaluating the same orders twice yields the same answers.
type FixtureGateway struct {
	snap *Snapshot

	mu        sync.Mutex
	calls     map[string]int
	submitted []string
}

// NewFixtureGateway wraps a snapshot.
func NewFixtureGateway(snap *Snapshot) *FixtureGateway {
	if snap == nil {
		snap = &Snapshot{}
	}
	return &FixtureGateway{snap: snap, calls: make(map[string]int)}
}

// Calls returns how many times the named method was invoked.
func (f *FixtureGateway) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Submitted returns the order ids passed to SubmitResend, in call order.
func (f *FixtureGateway) Submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func (f *FixtureGateway) record(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

// FetchOrder implements Gateway.
func (f *FixtureGateway) FetchOrder(ctx context.Context, orderID string) (*order.Order, error) {
	f.record("FetchOrder")
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	so, ok := f.snap.Orders[orderID]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	case so.Unavailable:
		return nil, fmt.Errorf("%w: order %s", ErrUnavailable, orderID)
	case so.Malformed:
		return nil, fmt.Errorf("%w: order %s: orderDetails section missing", ErrMalformed, orderID)
	}

	history := make([]order.Event, len(so.History))
	copy(history, so.History)
	return &order.Order{
		ID:            orderID,
		Status:        so.Status,
		History:       history,
		ArticleID:     so.ArticleID,
		ArticleDOI:    so.ArticleDOI,
		JournalName:   so.JournalName,
		PaymentMethod: so.PaymentMethod,
		TotalCharged:  so.TotalCharged.Decimal,
	}, nil
}

// FetchProductDetails implements Gateway.
func (f *FixtureGateway) FetchProductDetails(ctx context.Context, articleID string) (*order.ProductDetails, error) {
	f.record("FetchProductDetails")
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sp, ok := f.snap.Products[articleID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, articleID)
	}
	if sp.Unavailable {
		return nil, fmt.Errorf("%w: product %s", ErrUnavailable, articleID)
	}
	return &order.ProductDetails{
		ArticleID:    articleID,
		DOI:          sp.DOI,
		RevenueModel: sp.RevenueModel,
	}, nil
}

// FetchSiblingOrders implements Gateway.
func (f *FixtureGateway) FetchSiblingOrders(ctx context.Context, articleKey string) ([]order.Sibling, error) {
	f.record("FetchSiblingOrders")
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	listed, ok := f.snap.Siblings[articleKey]
	if !ok {
		return nil, fmt.Errorf("%w: orders of %s", ErrNotFound, articleKey)
	}
	siblings := make([]order.Sibling, 0, len(listed))
	for _, s := range listed {
		siblings = append(siblings, order.Sibling{
			ID:               s.ID,
			Status:           s.Status,
			InCancelledState: s.InCancelledState,
		})
	}
	return siblings, nil
}

// SubmitResend implements Gateway.
func (f *FixtureGateway) SubmitResend(ctx context.Context, orderID string) error {
	f.record("SubmitResend")
	f.mu.Lock()
	f.submitted = append(f.submitted, orderID)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &ResendError{OrderID: orderID, Detail: err.Error(), Err: ErrUnavailable}
	}
	if r, ok := f.snap.Resend[orderID]; ok && r.Fail {
		detail := r.Detail
		if detail == "" {
			detail = "HTTP 500"
		}
		return &ResendError{OrderID: orderID, Detail: detail, Err: ErrUnavailable}
	}
	return nil
}
