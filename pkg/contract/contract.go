package contract

import (
	"io"
	"os"
	"path"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	// SLA defines the freshness contract for a table.
	SLA struct {
		// MaxStaleness is the hard ceiling on data age. Staleness beyond it
		// is an error.
		MaxStaleness Duration `yaml:"max_staleness"`

		// LateArrival is the soft threshold. Staleness beyond it (but within
		// MaxStaleness) is a warning.
		LateArrival Duration `yaml:"late_arrival_threshold"`

		// Cadence documents the expected update interval. Informational.
		Cadence Duration `yaml:"cadence"`

		// AllowEmpty permits zero-row tables to pass freshness checks.
		AllowEmpty bool `yaml:"allow_empty"`
	}

	// Reference declares that a column holds values from another contracted
	// table's column, which forces that table to be scheduled earlier.
	Reference struct {
		Table  string `yaml:"table"`
		Column string `yaml:"column"`
	}

	// TableContract describes one table's migration requirements. Contracts
	// are immutable once the book is loaded.
	TableContract struct {
		// Name is the table name, set from the book's map key.
		Name string `yaml:"-"`

		// Position is the globally unique ordering slot for the run.
		Position int `yaml:"position"`

		// RequiredFields maps field names to their expected store types.
		RequiredFields map[string]string `yaml:"required_fields"`

		// Rules are the business rules checked by the constraint category.
		Rules []*Rule `yaml:"rules"`

		// SLA is the freshness contract.
		SLA SLA `yaml:"sla"`

		// UniqueKey lists the merge/de-duplication key columns.
		UniqueKey []string `yaml:"unique_key"`

		// References maps local columns to columns of other contracted
		// tables they depend on.
		References map[string]Reference `yaml:"references"`
	}

	// Book is an ordered, validated set of table contracts. Read-only after
	// load.
	Book struct {
		tables []*TableContract
		byName map[string]*TableContract
	}

	bookFile struct {
		Tables map[string]*TableContract `yaml:"tables"`
	}
)

// ErrNotFound is returned by Book.Get for tables without a contract.
var ErrNotFound = errors.New("no contract for table")

// Load parses and validates a contract book from YAML.
//
// Validation is fail-fast: duplicate positions, malformed rule expressions,
// missing unique keys, and references to tables that are absent or not
// scheduled earlier all abort the load, and therefore the run.
func Load(r io.Reader) (*Book, error) {
	var file bookFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal contract book")
	}

	if len(file.Tables) == 0 {
		return nil, errors.New("contract book defines no tables")
	}

	book := &Book{
		tables: make([]*TableContract, 0, len(file.Tables)),
		byName: make(map[string]*TableContract, len(file.Tables)),
	}

	for name, tc := range file.Tables {
		if tc == nil {
			return nil, errors.Errorf("table %s: empty contract", name)
		}
		tc.Name = name

		if err := tc.validate(); err != nil {
			return nil, errors.Wrapf(err, "table %s", name)
		}

		book.tables = append(book.tables, tc)
		book.byName[name] = tc
	}

	// Position defines the order; ties are impossible (checked below), but
	// name breaks them anyway so the sort is fully deterministic.
	sort.Slice(book.tables, func(i, j int) bool {
		a, b := book.tables[i], book.tables[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Name < b.Name
	})

	if err := book.checkOrdering(); err != nil {
		return nil, err
	}

	return book, nil
}

// LoadFile loads a contract book from the given path.
func LoadFile(path string) (*Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open contract book: %s", path)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

func (tc *TableContract) validate() error {
	if tc.Position <= 0 {
		return errors.Errorf("position must be positive, got %d", tc.Position)
	}
	if len(tc.UniqueKey) == 0 {
		return errors.New("unique_key must list at least one column")
	}
	if len(tc.RequiredFields) == 0 {
		return errors.New("required_fields must not be empty")
	}

	for _, rule := range tc.Rules {
		if err := rule.parse(); err != nil {
			return err
		}
	}

	return nil
}

// checkOrdering enforces unique positions and that every reference points
// at a table scheduled strictly earlier. Because "earlier" is a total order
// this also rules out dependency cycles.
func (b *Book) checkOrdering() error {
	seen := make(map[int]string, len(b.tables))
	scheduled := make(map[string]bool, len(b.tables))

	for _, tc := range b.tables {
		if prev, ok := seen[tc.Position]; ok {
			return errors.Errorf("duplicate position %d: %s and %s", tc.Position, prev, tc.Name)
		}
		seen[tc.Position] = tc.Name

		for col, ref := range tc.References {
			if ref.Table == tc.Name {
				return errors.Errorf("table %s: column %s references its own table", tc.Name, col)
			}
			if _, ok := b.byName[ref.Table]; !ok {
				return errors.Errorf("table %s: column %s references unknown table %s", tc.Name, col, ref.Table)
			}
			if !scheduled[ref.Table] {
				return errors.Errorf(
					"table %s: column %s references %s which is not scheduled earlier (dependency cycle or bad ordering)",
					tc.Name, col, ref.Table,
				)
			}
		}

		scheduled[tc.Name] = true
	}

	return nil
}

// Tables returns all contracts in migration order.
func (b *Book) Tables() []*TableContract {
	out := make([]*TableContract, len(b.tables))
	copy(out, b.tables)
	return out
}

// Get returns the contract for a table, or ErrNotFound.
func (b *Book) Get(name string) (*TableContract, error) {
	tc, ok := b.byName[name]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	return tc, nil
}

// Select returns the contracts matching any of the given exact names or
// glob-style patterns, in migration order. An empty pattern list selects
// every table.
func (b *Book) Select(patterns []string) ([]*TableContract, error) {
	if len(patterns) == 0 {
		return b.Tables(), nil
	}

	var out []*TableContract
	for _, tc := range b.tables {
		matched, err := matchAny(patterns, tc.Name)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, tc)
		}
	}

	if len(out) == 0 {
		return nil, errors.Errorf("no tables match patterns %v", patterns)
	}
	return out, nil
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, p := range patterns {
		ok, err := path.Match(p, name)
		if err != nil {
			return false, errors.Wrapf(err, "bad table pattern %q", p)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
