package contract

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/pkg/errors"
)

type (
	// Severity controls whether a failing rule produces an error (fails the
	// constraint category) or only a warning.
	Severity string

	// CostClass declares how expensive a rule is to evaluate, which decides
	// whether the engine checks a bounded sample or performs a full scan.
	CostClass string

	// Rule is a single business rule attached to a table contract. The
	// expression is parsed at load time; a malformed expression aborts the
	// run before any table is touched.
	//
	// Supported expression forms (field names refer to the table's columns):
	//
	//	serial_number NOT NULL
	//	part_code MATCHES "^[A-Z]{2}-[0-9]{6}$"
	//	unit_price BETWEEN 0 AND 250000
	//	status IN ("active", "retired", "pending")
	//	updated_at >= created_at
	//	battery_pct <= 100
	Rule struct {
		// Name identifies the rule in reports. Defaults to the expression
		// text when omitted.
		Name string `yaml:"name"`

		// Expr is the predicate source text. Rows for which the predicate
		// does not hold are violations.
		Expr string `yaml:"expr"`

		// Severity is "error" (default) or "warn".
		Severity Severity `yaml:"severity"`

		// Cost is "sample" (default) or "full".
		Cost CostClass `yaml:"cost"`

		parsed *ruleExpr
	}

	// ruleExpr is the participle grammar for rule predicates.
	ruleExpr struct {
		Field string   `parser:"@Ident"`
		Body  ruleBody `parser:"@@"`
	}

	ruleBody struct {
		NotNull bool        `parser:"  @('NOT' 'NULL')"`
		Matches *string     `parser:"| 'MATCHES' @String"`
		Between *ruleRange  `parser:"| 'BETWEEN' @@"`
		In      []ruleValue `parser:"| 'IN' '(' @@ (',' @@)* ')'"`
		Compare *ruleCmp    `parser:"| @@"`
	}

	ruleRange struct {
		Low  string `parser:"@(Int|Float)"`
		High string `parser:"'AND' @(Int|Float)"`
	}

	ruleCmp struct {
		Op    string     `parser:"@('<' '='? | '>' '='? | '!' '=' | '=')"`
		Field *string    `parser:"( @Ident"`
		Value *ruleValue `parser:"| @@ )"`
	}

	// ruleValue is a literal operand: a quoted string or a bare number.
	ruleValue struct {
		Str *string `parser:"  @String"`
		Num *string `parser:"| @(Int|Float)"`
	}
)

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"

	CostSample CostClass = "sample"
	CostFull   CostClass = "full"
)

var ruleParser = participle.MustBuild[ruleExpr](
	participle.Unquote("String"),
)

// parse validates the rule's metadata and compiles its expression. Called
// once during book loading.
func (r *Rule) parse() error {
	switch r.Severity {
	case "":
		r.Severity = SeverityError
	case SeverityError, SeverityWarn:
	default:
		return errors.Errorf("unknown severity %q (want error or warn)", r.Severity)
	}

	switch r.Cost {
	case "":
		r.Cost = CostSample
	case CostSample, CostFull:
	default:
		return errors.Errorf("unknown cost class %q (want sample or full)", r.Cost)
	}

	if strings.TrimSpace(r.Expr) == "" {
		return errors.New("rule has no expression")
	}

	expr, err := ruleParser.ParseString("", r.Expr)
	if err != nil {
		return errors.Wrapf(err, "malformed rule expression %q", r.Expr)
	}
	r.parsed = expr

	if r.Name == "" {
		r.Name = r.Expr
	}
	return nil
}

// ViolationPredicate returns a SQL predicate matching rows that violate the
// rule. The engine counts matching rows; any non-zero count means the rule
// failed.
func (r *Rule) ViolationPredicate() string {
	e := r.parsed
	field := quoteIdent(e.Field)

	switch {
	case e.Body.NotNull:
		return fmt.Sprintf("%s IS NULL", field)
	case e.Body.Matches != nil:
		return fmt.Sprintf("NOT match(toString(%s), %s)", field, quoteString(*e.Body.Matches))
	case e.Body.Between != nil:
		return fmt.Sprintf("(%s < %s OR %s > %s)", field, e.Body.Between.Low, field, e.Body.Between.High)
	case len(e.Body.In) > 0:
		vals := make([]string, len(e.Body.In))
		for i, v := range e.Body.In {
			vals[i] = v.sql()
		}
		return fmt.Sprintf("%s NOT IN (%s)", field, strings.Join(vals, ", "))
	case e.Body.Compare != nil:
		cmp := e.Body.Compare
		var operand string
		if cmp.Field != nil {
			operand = quoteIdent(*cmp.Field)
		} else {
			operand = cmp.Value.sql()
		}
		return fmt.Sprintf("NOT (%s %s %s)", field, cmp.Op, operand)
	}

	// Unreachable for a successfully parsed expression.
	return "1 = 0"
}

// sql renders the literal for use in a store query.
func (v ruleValue) sql() string {
	if v.Str != nil {
		return quoteString(*v.Str)
	}
	return *v.Num
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "") + "`"
}

func quoteString(s string) string {
	// Backslashes first, or the quote escaping would be double-escaped.
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)
	return "'" + s + "'"
}
