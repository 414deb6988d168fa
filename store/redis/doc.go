// Package redis implements the graflow result cache and long-term item
// store on Redis, so several engines can share node results and memory
// while runs, flow types and checkpoints stay in a SQL store.
//
// Cache entries and items are Hashes. Set indexes group them by namespace
// and prefix; Sorted Sets scored by expiry in Unix milliseconds drive
// sweeps. Expired entries are kept until swept, matching the SQL stores.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	rs := redis.New(client)
//	eng, err := engine.Build(g,
//	    engine.WithCacheStore(rs),
//	    engine.WithLongtermStore(rs),
//	)
package redis
