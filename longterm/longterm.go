// Package longterm is the namespaced key/value memory shared across flow
// runs. Items live under a hierarchical namespace such as
// ("users", "42", "notes") and may expire after a TTL measured in minutes.
package longterm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidNamespace is returned for empty namespaces or labels that are
// empty or contain a dot.
var ErrInvalidNamespace = errors.New("longterm: invalid namespace")

// Item is one stored value.
type Item struct {
	Namespace []string
	Key       string
	Value     map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time

	// ExpiresAt is nil for items without a TTL.
	ExpiresAt *time.Time
	// TTLMinutes is kept so that reads can push ExpiresAt forward.
	TTLMinutes *float64
}

// Prefix returns the dotted storage form of the item's namespace.
func (i *Item) Prefix() string { return JoinNamespace(i.Namespace) }

// Expired reports whether the item is past its expiry at now.
func (i *Item) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// JoinNamespace renders a namespace as its dotted prefix.
func JoinNamespace(ns []string) string { return strings.Join(ns, ".") }

// SplitPrefix is the inverse of JoinNamespace.
func SplitPrefix(prefix string) []string {
	if prefix == "" {
		return []string{}
	}
	return strings.Split(prefix, ".")
}

// ValidateNamespace rejects namespaces that cannot round-trip through the
// dotted prefix form.
func ValidateNamespace(ns []string) error {
	if len(ns) == 0 {
		return fmt.Errorf("%w: namespace cannot be empty", ErrInvalidNamespace)
	}
	for _, label := range ns {
		if label == "" {
			return fmt.Errorf("%w: empty label in %q", ErrInvalidNamespace, ns)
		}
		if strings.Contains(label, ".") {
			return fmt.Errorf("%w: label %q contains a dot", ErrInvalidNamespace, label)
		}
	}
	return nil
}

// HasPrefix reports whether prefix is stored under the namespace prefix
// want. An empty want matches everything.
func HasPrefix(prefix, want string) bool {
	return want == "" || prefix == want || strings.HasPrefix(prefix, want+".")
}

// Store defines the persistence contract for long-term items. Expired items
// are never returned by reads, even before they are swept.
type Store interface {
	// GetItem returns a live item or graflow.ErrItemNotFound.
	GetItem(ctx context.Context, prefix, key string, now time.Time) (*Item, error)

	// PutItem inserts or replaces an item. Replacing keeps CreatedAt.
	PutItem(ctx context.Context, item *Item) error

	// DeleteItem removes an item. Deleting a missing item is not an error.
	DeleteItem(ctx context.Context, prefix, key string) error

	// SearchItems returns live items whose prefix equals or extends prefix,
	// most recently updated first.
	SearchItems(ctx context.Context, prefix string, now time.Time) ([]*Item, error)

	// ListItemPrefixes returns the distinct prefixes of live items.
	ListItemPrefixes(ctx context.Context, now time.Time) ([]string, error)

	// RefreshItemTTL recomputes ExpiresAt from TTLMinutes for the given
	// keys. Items without a TTL are untouched.
	RefreshItemTTL(ctx context.Context, prefix string, keys []string, now time.Time) error

	// SweepExpiredItems deletes expired items and returns how many went.
	SweepExpiredItems(ctx context.Context, now time.Time) (int64, error)
}

// ExpiryFor returns the expiry for an item written at now with ttl minutes.
func ExpiryFor(now time.Time, ttl *float64) *time.Time {
	if ttl == nil {
		return nil
	}
	at := now.Add(time.Duration(*ttl * float64(time.Minute)))
	return &at
}
