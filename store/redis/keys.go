package redis

import "fmt"

// Redis key naming conventions for graflow data.
// All keys are prefixed with "graflow:" to avoid collisions.

const keyPrefix = "graflow:"

// ── Cache keys ──

// cacheKey returns the Hash key of a cache entry. The namespace length
// keeps keys unambiguous when labels contain colons.
func cacheKey(namespace, key string) string {
	return fmt.Sprintf("%scache:%d:%s:%s", keyPrefix, len(namespace), namespace, key)
}

// cacheNamespaceKey returns the Set of entry keys in a namespace.
func cacheNamespaceKey(namespace string) string {
	return keyPrefix + "cache_ns:" + namespace
}

// cacheNamespacesKey is the Set of namespaces holding entries.
const cacheNamespacesKey = keyPrefix + "cache_namespaces"

// cacheExpiryKey is the Sorted Set of entry keys scored by expiry.
const cacheExpiryKey = keyPrefix + "cache_exp"

// ── Item keys ──

// itemKey returns the Hash key of a long-term item.
func itemKey(prefix, key string) string {
	return fmt.Sprintf("%sitem:%d:%s:%s", keyPrefix, len(prefix), prefix, key)
}

// itemPrefixKey returns the Set of item keys under an exact prefix.
func itemPrefixKey(prefix string) string {
	return keyPrefix + "item_prefix:" + prefix
}

// itemPrefixesKey is the Set of prefixes holding items.
const itemPrefixesKey = keyPrefix + "item_prefixes"

// itemExpiryKey is the Sorted Set of item keys scored by expiry.
const itemExpiryKey = keyPrefix + "item_exp"
