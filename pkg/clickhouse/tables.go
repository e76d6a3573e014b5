package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Column describes a single column of a live table.
type Column struct {
	Name string
	Type string
}

// TableExists reports whether the given table exists in the database.
func (c *Client) TableExists(ctx context.Context, database, table string) (bool, error) {
	rows, err := c.conn.Query(ctx,
		"SELECT 1 FROM system.tables WHERE database = ? AND name = ?",
		database, table,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check for table %s.%s", database, table)
	}
	defer rows.Close()

	return rows.Next(), nil
}

// Columns returns the name and type of every column of a table, in
// definition order.
func (c *Client) Columns(ctx context.Context, database, table string) ([]Column, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT name, type
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position`,
		database, table,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read columns of %s.%s", database, table)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, errors.Wrap(err, "failed to scan column row")
		}
		cols = append(cols, col)
	}

	if len(cols) == 0 {
		return nil, errors.Errorf("table %s.%s not found", database, table)
	}
	return cols, nil
}

// RowCount returns the number of rows in a table.
func (c *Client) RowCount(ctx context.Context, database, table string) (uint64, error) {
	rows, err := c.conn.Query(ctx, fmt.Sprintf("SELECT count() FROM %s", qualify(database, table)))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count rows of %s.%s", database, table)
	}
	defer rows.Close()

	var count uint64
	if !rows.Next() {
		return 0, errors.Errorf("count query for %s.%s returned no rows", database, table)
	}
	if err := rows.Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to scan row count")
	}
	return count, nil
}

// LastUpdated returns the most recent timestamp across the given columns,
// typically updated_at and created_at. A zero time with nil error means the
// table is empty.
func (c *Client) LastUpdated(ctx context.Context, database, table string, columns []string) (time.Time, error) {
	if len(columns) == 0 {
		return time.Time{}, errors.Errorf("no timestamp columns for %s.%s", database, table)
	}

	maxes := make([]string, len(columns))
	for i, col := range columns {
		maxes[i] = fmt.Sprintf("max(%s)", quoteIdent(col))
	}
	expr := maxes[0]
	if len(maxes) > 1 {
		expr = fmt.Sprintf("greatest(%s)", strings.Join(maxes, ", "))
	}

	query := fmt.Sprintf("SELECT %s, count() FROM %s", expr, qualify(database, table))
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to read last update of %s.%s", database, table)
	}
	defer rows.Close()

	var (
		latest time.Time
		count  uint64
	)
	if !rows.Next() {
		return time.Time{}, errors.Errorf("freshness query for %s.%s returned no rows", database, table)
	}
	if err := rows.Scan(&latest, &count); err != nil {
		return time.Time{}, errors.Wrap(err, "failed to scan last update")
	}

	if count == 0 {
		return time.Time{}, nil
	}
	return latest, nil
}

// ViolationCount counts rows matching the violation predicate. A non-zero
// sampleLimit bounds the scan to that many rows; zero means a full scan.
func (c *Client) ViolationCount(ctx context.Context, database, table, predicate string, sampleLimit uint64) (uint64, error) {
	source := qualify(database, table)
	if sampleLimit > 0 {
		source = fmt.Sprintf("(SELECT * FROM %s LIMIT %d)", source, sampleLimit)
	}

	rows, err := c.conn.Query(ctx, fmt.Sprintf("SELECT count() FROM %s WHERE %s", source, predicate))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to evaluate rule against %s.%s", database, table)
	}
	defer rows.Close()

	var count uint64
	if !rows.Next() {
		return 0, errors.Errorf("rule query for %s.%s returned no rows", database, table)
	}
	if err := rows.Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to scan violation count")
	}
	return count, nil
}

// UpsertFrom merges a source table into a destination table keyed by the
// given unique key columns. Source rows win on key collision, new source
// rows are inserted, and destination-only rows are left untouched.
//
// The merge builds the combined content in a scratch table and swaps it in
// with EXCHANGE TABLES, so the destination is replaced atomically and the
// operation is idempotent: applying the same merge twice yields identical
// destination content.
func (c *Client) UpsertFrom(ctx context.Context, srcDB, dstDB, table string, keys []string) error {
	if len(keys) == 0 {
		return errors.Errorf("upsert into %s.%s requires at least one key column", dstDB, table)
	}

	scratch := table + "__merge"
	keyTuple := quoteIdentList(keys)
	src := qualify(srcDB, table)
	dst := qualify(dstDB, table)

	steps := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", qualify(dstDB, scratch)),
		fmt.Sprintf("CREATE TABLE %s AS %s", qualify(dstDB, scratch), dst),
		fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", qualify(dstDB, scratch), src),
		fmt.Sprintf(
			"INSERT INTO %s SELECT * FROM %s WHERE (%s) NOT IN (SELECT %s FROM %s)",
			qualify(dstDB, scratch), dst, keyTuple, keyTuple, src,
		),
		fmt.Sprintf("EXCHANGE TABLES %s AND %s", qualify(dstDB, scratch), dst),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", qualify(dstDB, scratch)),
	}

	for _, stmt := range steps {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "upsert into %s.%s failed", dstDB, table)
		}
	}
	return nil
}

// CloneTable creates dstDB.dstTable with the schema and contents of
// srcDB.srcTable using CLONE AS, which attaches the source's data parts
// to the new table. The clone is copy-on-write: no rows are rewritten,
// making it cheap even for large tables.
func (c *Client) CloneTable(ctx context.Context, srcDB, srcTable, dstDB, dstTable string) error {
	err := c.conn.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE %s CLONE AS %s",
		qualify(dstDB, dstTable), qualify(srcDB, srcTable),
	))
	return errors.Wrapf(err, "failed to clone %s.%s", srcDB, srcTable)
}

// ExchangeTables atomically swaps two tables.
func (c *Client) ExchangeTables(ctx context.Context, db1, table1, db2, table2 string) error {
	err := c.conn.Exec(ctx, fmt.Sprintf(
		"EXCHANGE TABLES %s AND %s",
		qualify(db1, table1), qualify(db2, table2),
	))
	return errors.Wrapf(err, "failed to exchange %s.%s and %s.%s", db1, table1, db2, table2)
}

// DropTable drops a table if it exists.
func (c *Client) DropTable(ctx context.Context, database, table string) error {
	err := c.conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", qualify(database, table)))
	return errors.Wrapf(err, "failed to drop %s.%s", database, table)
}

func qualify(database, table string) string {
	return quoteIdent(database) + "." + quoteIdent(table)
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "") + "`"
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
