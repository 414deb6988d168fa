package longterm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/serde"
)

// Service is the long-term store used by flow nodes. It validates
// namespaces, applies TTLs and renews them on read.
type Service struct {
	store         Store
	refreshOnRead bool
	defaultTTL    *float64
	logger        *slog.Logger
	now           func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRefreshOnRead controls whether reads renew item TTLs.
func WithRefreshOnRead(refresh bool) ServiceOption {
	return func(s *Service) { s.refreshOnRead = refresh }
}

// WithDefaultTTL sets the TTL in minutes applied to puts without one.
func WithDefaultTTL(minutes float64) ServiceOption {
	return func(s *Service) { s.defaultTTL = &minutes }
}

// WithLogger sets the logger for the service.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		refreshOnRead: true,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutOption configures a single Put.
type PutOption func(*putOptions)

type putOptions struct {
	ttl   *float64
	index []string
}

// WithTTL expires the item the given number of minutes after it was last
// written or read.
func WithTTL(minutes float64) PutOption {
	return func(o *putOptions) { o.ttl = &minutes }
}

// WithIndex names fields for semantic indexing. Accepted for API
// compatibility; items are not embedded.
func WithIndex(fields ...string) PutOption {
	return func(o *putOptions) { o.index = fields }
}

// SearchOpts controls Search.
type SearchOpts struct {
	// Filter matches top-level value fields. A field may map to an operator
	// object using $eq, $ne, $gt, $gte, $lt or $lte.
	Filter map[string]any
	// Query is a semantic search query. Ignored.
	Query  string
	Limit  int
	Offset int
}

// ListNamespacesOpts controls ListNamespaces.
type ListNamespacesOpts struct {
	Prefix   []string
	Suffix   []string
	MaxDepth int
	Limit    int
	Offset   int
}

// Get returns the item or nil when it does not exist or has expired.
func (s *Service) Get(ctx context.Context, ns []string, key string) (*Item, error) {
	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}
	now := s.now()
	prefix := JoinNamespace(ns)
	item, err := s.store.GetItem(ctx, prefix, key, now)
	if errors.Is(err, graflow.ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.refreshOnRead && item.TTLMinutes != nil {
		if err := s.store.RefreshItemTTL(ctx, prefix, []string{key}, now); err != nil {
			return nil, err
		}
		item.ExpiresAt = ExpiryFor(now, item.TTLMinutes)
	}
	return item, nil
}

// Put stores value under (ns, key). A nil value deletes the item.
func (s *Service) Put(ctx context.Context, ns []string, key string, value map[string]any, opts ...PutOption) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if value == nil {
		return s.Delete(ctx, ns, key)
	}
	o := putOptions{ttl: s.defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.index) > 0 {
		s.logger.Debug("longterm: index fields ignored", slog.Any("fields", o.index))
	}
	canon, err := serde.CanonicalMap(value)
	if err != nil {
		return fmt.Errorf("longterm: put %s/%s: %w", JoinNamespace(ns), key, err)
	}
	now := s.now()
	return s.store.PutItem(ctx, &Item{
		Namespace:  append([]string(nil), ns...),
		Key:        key,
		Value:      canon,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  ExpiryFor(now, o.ttl),
		TTLMinutes: o.ttl,
	})
}

// Delete removes an item.
func (s *Service) Delete(ctx context.Context, ns []string, key string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	return s.store.DeleteItem(ctx, JoinNamespace(ns), key)
}

// Search returns items under nsPrefix that match the filter.
func (s *Service) Search(ctx context.Context, nsPrefix []string, opts SearchOpts) ([]*Item, error) {
	now := s.now()
	prefix := JoinNamespace(nsPrefix)
	items, err := s.store.SearchItems(ctx, prefix, now)
	if err != nil {
		return nil, err
	}

	matched := make([]*Item, 0, len(items))
	for _, item := range items {
		if matchFilter(item.Value, opts.Filter) {
			matched = append(matched, item)
		}
	}
	matched = page(matched, opts.Offset, opts.Limit)

	if s.refreshOnRead {
		byPrefix := map[string][]string{}
		for _, item := range matched {
			if item.TTLMinutes == nil {
				continue
			}
			p := item.Prefix()
			byPrefix[p] = append(byPrefix[p], item.Key)
			item.ExpiresAt = ExpiryFor(now, item.TTLMinutes)
		}
		for p, keys := range byPrefix {
			if err := s.store.RefreshItemTTL(ctx, p, keys, now); err != nil {
				return nil, err
			}
		}
	}
	return matched, nil
}

// ListNamespaces returns the distinct namespaces holding live items.
func (s *Service) ListNamespaces(ctx context.Context, opts ListNamespacesOpts) ([][]string, error) {
	prefixes, err := s.store.ListItemPrefixes(ctx, s.now())
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	out := make([][]string, 0, len(prefixes))
	for _, p := range prefixes {
		ns := SplitPrefix(p)
		if !hasLabels(ns, opts.Prefix, false) || !hasLabels(ns, opts.Suffix, true) {
			continue
		}
		if opts.MaxDepth > 0 && len(ns) > opts.MaxDepth {
			ns = ns[:opts.MaxDepth]
		}
		key := JoinNamespace(ns)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return JoinNamespace(out[i]) < JoinNamespace(out[j]) })
	return page(out, opts.Offset, opts.Limit), nil
}

// SweepExpired deletes expired items.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.SweepExpiredItems(ctx, s.now())
}

func hasLabels(ns, labels []string, suffix bool) bool {
	if len(labels) > len(ns) {
		return false
	}
	offset := 0
	if suffix {
		offset = len(ns) - len(labels)
	}
	for i, l := range labels {
		if l != "*" && ns[offset+i] != l {
			return false
		}
	}
	return true
}

func page[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return in[:0]
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

func matchFilter(value, filter map[string]any) bool {
	for field, want := range filter {
		got, ok := value[field]
		if ops, isOps := want.(map[string]any); isOps && isOperatorMap(ops) {
			for op, operand := range ops {
				if !compare(op, got, ok, serde.Canonicalize(operand)) {
					return false
				}
			}
			continue
		}
		if !ok || !reflect.DeepEqual(got, serde.Canonicalize(want)) {
			return false
		}
	}
	return true
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

func compare(op string, got any, present bool, want any) bool {
	switch op {
	case "$eq":
		return present && reflect.DeepEqual(got, want)
	case "$ne":
		return !present || !reflect.DeepEqual(got, want)
	}
	g, gok := toFloat(got)
	w, wok := toFloat(want)
	if !present || !gok || !wok {
		return false
	}
	switch op {
	case "$gt":
		return g > w
	case "$gte":
		return g >= w
	case "$lt":
		return g < w
	case "$lte":
		return g <= w
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
