// Package reaper runs TTL sweeps in the background on a cron schedule.
//
// Expired rows in the result cache and the long-term store are removed
// lazily on read. The reaper removes them eagerly so tables do not grow
// with entries nobody reads again. Each tick runs every registered
// Sweeper in order, retrying a failed sweep with a backoff.Strategy
// before giving up until the next tick.
//
// Schedules use standard 5-field cron syntax or descriptors such as
// "@every 1m" and "@hourly".
package reaper
