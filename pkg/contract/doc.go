// Package contract provides the table contract store for migration runs.
//
// A contract book is a YAML document describing, per table, its position in
// the migration order, required schema, business rules, freshness SLA, and
// unique key columns. Contracts are loaded once at the start of a run and
// are immutable afterwards.
//
// # Core Components
//
//   - TableContract: Per-table schema, rule, SLA, and ordering definition
//   - Book: Ordered, validated collection of contracts for a run
//   - Rule: A business rule with a parsed predicate expression
//   - Duration: SLA duration supporting "30m", "6h", and "2d" notation
//
// # Usage Example
//
//	book, err := contract.LoadFile("contracts.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for _, tc := range book.Tables() {
//		fmt.Printf("%03d %s (key: %v)\n", tc.Position, tc.Name, tc.UniqueKey)
//	}
//
// Loading fails fast on duplicate positions, malformed rule expressions,
// and unique-key references to tables that are not scheduled earlier. A
// book that loads successfully is safe to drive a run with.
package contract
