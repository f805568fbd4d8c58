// Package database builds parameterised SQL for the dialects the job queue supports.
package database

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	GreaterThanOrEqual ConditionType = ">="
	In                 ConditionType = "IN"
	NotIn              ConditionType = "NOT IN"
	IsNull             ConditionType = "IS NULL"
	IsNotNull          ConditionType = "IS NOT NULL"
	Custom             ConditionType = "CUSTOM"
	defaultLimit                     = -1
	defaultOffset                    = -1
)

var customPlaceholder = regexp.MustCompile(`\$(\d+)`)

// Flavor captures the syntax differences between SQL dialects.
type Flavor struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Quote renders a single identifier.
	Quote func(ident string) string
}

var (
	// Postgres uses $n placeholders and double-quoted identifiers.
	Postgres = Flavor{
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		Quote:       func(ident string) string { return pgx.Identifier{ident}.Sanitize() },
	}
	// SQLite uses ? placeholders and double-quoted identifiers.
	SQLite = Flavor{
		Placeholder: func(int) string { return "?" },
		Quote:       func(ident string) string { return pgx.Identifier{ident}.Sanitize() },
	}
	// MySQL uses ? placeholders and backtick-quoted identifiers.
	MySQL = Flavor{
		Placeholder: func(int) string { return "?" },
		Quote: func(ident string) string {
			return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
		},
	}
)

type Condition struct {
	Field    string
	Type     ConditionType
	Value    any
	rawQuery *string
}

func WhereCond(field string, condType ConditionType, value any) Condition {
	if condType == Custom {
		//nolint:forbidigo // panic prevents misuse; custom conditions must provide raw SQL via WhereRawCond.
		panic("Use WhereRawCond for Custom type")
	}
	return Condition{
		Field: field,
		Type:  condType,
		Value: value,
	}
}

// WhereRawCond adds a raw condition. Parameters are referenced as $1..$n regardless of flavor.
func WhereRawCond(rawQuery string, params ...any) Condition {
	queryStr := rawQuery
	var value any = params
	if len(params) == 0 {
		value = nil
	} else if len(params) == 1 {
		value = params[0]
	}

	return Condition{
		Type:     Custom,
		rawQuery: &queryStr,
		Value:    value,
	}
}

type orderTerm struct {
	column    string
	direction string
}

type ListQueryOptions struct {
	Table      string
	Flavor     Flavor
	Columns    []string
	CountOnly  bool
	Conditions []Condition
	Limit      int
	Offset     int
	// Suffix is appended verbatim, e.g. a row locking clause.
	Suffix string

	order []orderTerm
}

type ListQueryOption func(*ListQueryOptions)

func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	options := &ListQueryOptions{
		Table:      table,
		Flavor:     Postgres,
		Columns:    []string{},
		Conditions: []Condition{},
		Limit:      defaultLimit,
		Offset:     defaultOffset,
	}

	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithFlavor selects the dialect syntax.
func WithFlavor(f Flavor) ListQueryOption {
	return func(o *ListQueryOptions) {
		if f.Placeholder != nil && f.Quote != nil {
			o.Flavor = f
		}
	}
}

// WithColumns sets the columns to select.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Columns = cols
	}
}

// WithCondition adds a single condition.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Conditions = append(o.Conditions, cond)
	}
}

// WithConditions sets the entire list of conditions.
func WithConditions(conds ...Condition) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Conditions = conds
	}
}

// WithOrderBy appends an ordering term. Call it repeatedly for tie-breakers.
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.order = append(o.order, orderTerm{column: column, direction: direction})
	}
}

// WithLimit sets the limit. Accepts 0.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit >= 0 {
			o.Limit = limit
		}
	}
}

// WithOffset sets the offset. Accepts 0.
func WithOffset(offset int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if offset >= 0 {
			o.Offset = offset
		}
	}
}

// WithCountOnly sets the query to count only.
func WithCountOnly() ListQueryOption {
	return func(o *ListQueryOptions) {
		o.CountOnly = true
	}
}

// WithSuffix appends a trailing clause such as FOR UPDATE SKIP LOCKED.
func WithSuffix(suffix string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Suffix = suffix
	}
}

// quoteQualified quotes identifiers like "table.column" part by part.
func (f Flavor) quoteQualified(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = f.Quote(p)
	}
	return strings.Join(parts, ".")
}

func buildSelectClause(options *ListQueryOptions) string {
	if options.CountOnly {
		return "SELECT COUNT(*) "
	}
	if len(options.Columns) == 0 {
		return "SELECT * "
	}
	cols := make([]string, len(options.Columns))
	for i, col := range options.Columns {
		cols[i] = options.Flavor.quoteQualified(col)
	}
	return fmt.Sprintf("SELECT %s ", strings.Join(cols, ", "))
}

func buildPaginationAndOrderClause(options *ListQueryOptions, paramCount int, args []any) (string, []any) {
	var clause strings.Builder

	if len(options.order) > 0 {
		terms := make([]string, 0, len(options.order))
		for _, term := range options.order {
			t := options.Flavor.quoteQualified(term.column)
			if dir := strings.ToUpper(term.direction); dir == "ASC" || dir == "DESC" {
				t += " " + dir
			}
			terms = append(terms, t)
		}
		clause.WriteString(" ORDER BY ")
		clause.WriteString(strings.Join(terms, ", "))
	}

	// Add LIMIT clause only if it was explicitly set (not the default sentinel)
	if options.Limit != defaultLimit {
		clause.WriteString(" LIMIT " + options.Flavor.Placeholder(paramCount))
		args = append(args, options.Limit)
		paramCount++
	}

	// OFFSET without LIMIT is rejected by MySQL and SQLite, so it is only emitted alongside one.
	if options.Offset != defaultOffset && options.Limit != defaultLimit {
		clause.WriteString(" OFFSET " + options.Flavor.Placeholder(paramCount))
		args = append(args, options.Offset)
	}

	return clause.String(), args
}

// BuildListQuery constructs a SELECT statement and its arguments from options, quoting identifiers.
//
// Example usage:
//
//	options := NewListQueryOptions("job_record",
//		WithFlavor(MySQL),
//		WithColumns("id", "state"),
//		WithCondition(WhereCond("queue_name", Equal, "email")),
//		WithCondition(WhereCond("state", In, []string{"pending", "retrying"})),
//		WithOrderBy("created_at", "ASC"),
//		WithLimit(1),
//		WithSuffix("FOR UPDATE SKIP LOCKED"),
//	)
//
//	query, args := BuildListQuery(options)
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}

	var query strings.Builder
	query.WriteString(buildSelectClause(options))
	query.WriteString("FROM ")
	query.WriteString(options.Flavor.quoteQualified(options.Table))

	whereClause, whereArgs, nextParamCount := buildWhereClause(options.Flavor, options.Conditions, 1)
	if whereClause != "" {
		query.WriteString(" ")
		query.WriteString(whereClause)
	}

	if options.CountOnly {
		return query.String(), whereArgs
	}

	paginationOrderClause, finalArgs := buildPaginationAndOrderClause(options, nextParamCount, whereArgs)
	query.WriteString(paginationOrderClause)
	if options.Suffix != "" {
		query.WriteString(" ")
		query.WriteString(options.Suffix)
	}

	return query.String(), finalArgs
}

// BuildDeleteQuery constructs a DELETE statement using the table, flavor and conditions of options.
func BuildDeleteQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}
	query := "DELETE FROM " + options.Flavor.quoteQualified(options.Table)
	whereClause, args, _ := buildWhereClause(options.Flavor, options.Conditions, 1)
	if whereClause != "" {
		query += " " + whereClause
	}
	return query, args
}

func handleStandardCondition(f Flavor, cond Condition, field string, paramCount int) (string, []any, int) {
	conditionStr := fmt.Sprintf("%s %s %s", field, cond.Type, f.Placeholder(paramCount))
	return conditionStr, []any{cond.Value}, paramCount + 1
}

func handleInCondition(f Flavor, cond Condition, field string, paramCount int) (string, []any, int) {
	// Accept any slice type via reflection
	rv := reflect.ValueOf(cond.Value)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		if cond.Type == In {
			// An empty IN list matches nothing.
			return "1 = 0", []any{}, paramCount
		}
		return "", []any{}, paramCount
	}

	placeholders := make([]string, rv.Len())
	args := make([]any, rv.Len())
	currentParam := paramCount
	for i := range rv.Len() {
		placeholders[i] = f.Placeholder(currentParam)
		args[i] = rv.Index(i).Interface()
		currentParam++
	}
	conditionStr := fmt.Sprintf("%s %s (%s)", field, cond.Type, strings.Join(placeholders, ", "))
	return conditionStr, args, currentParam
}

func handleCustomCondition(f Flavor, cond Condition, paramCount int) (string, []any, int) {
	args := []any{}
	if cond.rawQuery == nil || *cond.rawQuery == "" {
		return "", []any{}, paramCount
	}
	conditionStr := *cond.rawQuery

	if cond.Value == nil {
		return conditionStr, args, paramCount
	}

	// NOTE: RawQuery itself is NOT sanitized here.
	var params []any
	if paramSlice, ok := cond.Value.([]any); ok {
		params = paramSlice
	} else {
		params = []any{cond.Value}
	}

	// Positional flavors need one bind value per occurrence, so repeated references are re-bound.
	currentParam := paramCount
	conditionStr = customPlaceholder.ReplaceAllStringFunc(conditionStr, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(params) {
			return m
		}
		args = append(args, params[n-1])
		p := f.Placeholder(currentParam)
		currentParam++
		return p
	})

	return conditionStr, args, currentParam
}

// processCondition processes a single condition and returns the SQL string, args, and next param count.
func processCondition(f Flavor, cond Condition, paramCount int) (string, []any, int) {
	if cond.Type == Custom {
		return handleCustomCondition(f, cond, paramCount)
	}
	if cond.Field == "" {
		return "", []any{}, paramCount
	}
	field := f.quoteQualified(cond.Field)

	switch cond.Type {
	case In, NotIn:
		return handleInCondition(f, cond, field, paramCount)
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s %s", field, cond.Type), []any{}, paramCount
	case Equal, NotEqual, GreaterThan, LessThan, LessThanOrEqual, GreaterThanOrEqual:
		return handleStandardCondition(f, cond, field, paramCount)
	}
	return "", []any{}, paramCount
}

// buildWhereClause generates the WHERE part of the query with quoted fields and manages parameters.
func buildWhereClause(f Flavor, inputConditions []Condition, startParamIndex int) (string, []any, int) {
	conditions := make([]string, 0, len(inputConditions))
	args := []any{}
	paramCount := startParamIndex

	for _, cond := range inputConditions {
		conditionStr, newArgs, nextParamCount := processCondition(f, cond, paramCount)
		if conditionStr != "" {
			conditions = append(conditions, conditionStr)
			args = append(args, newArgs...)
			paramCount = nextParamCount
		}
	}

	if len(conditions) == 0 {
		return "", args, paramCount
	}
	return "WHERE " + strings.Join(conditions, " AND "), args, paramCount
}
