// Package validate implements the layered validation engine.
//
// Three independent, composable categories exist:
//
//   - schema: live columns versus the contract's required fields. Missing
//     fields and type mismatches are errors; unknown extra fields only warn.
//   - constraints: the contract's business rules, each evaluated as a
//     violation-count query against a bounded sample or a full scan per the
//     rule's cost class.
//   - freshness: staleness of the table's newest timestamp versus the SLA.
//
// A category passes when it produced no errors; warnings never flip a
// category to failed. Categories are read-only and run concurrently for a
// table; their results are joined before the caller acts.
package validate
