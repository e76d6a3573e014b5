// Package clickhouse provides the ClickHouse client used by the migration
// engine for all store traffic: schema introspection, row counts, freshness
// probes, upsert merges, and snapshot clone/exchange operations.
//
// The client deliberately exposes only data-plane operations. Query
// execution belongs to the store; this package builds statements and
// invokes them, nothing more.
package clickhouse
