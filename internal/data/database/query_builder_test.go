package database

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildListQuery_BasicSelect(t *testing.T) {
	opts := NewListQueryOptions("job_record")
	query, args := BuildListQuery(opts)

	expected := `SELECT * FROM "job_record"`
	if query != expected {
		t.Errorf("Expected query %q, got %q", expected, query)
	}
	if len(args) != 0 {
		t.Errorf("Expected 0 args, got %d", len(args))
	}
}

func TestBuildListQuery_WithColumns(t *testing.T) {
	opts := NewListQueryOptions("job_record",
		WithColumns("id", "job_record.state"),
	)
	query, _ := BuildListQuery(opts)

	expected := `SELECT "id", "job_record"."state" FROM "job_record"`
	if query != expected {
		t.Errorf("Expected query %q, got %q", expected, query)
	}
}

func TestBuildListQuery_CountOnly(t *testing.T) {
	opts := NewListQueryOptions("job_record",
		WithCountOnly(),
		WithCondition(WhereCond("is_settled", Equal, true)),
		WithOrderBy("created_at", "DESC"),
		WithLimit(10),
	)
	query, args := BuildListQuery(opts)

	expected := `SELECT COUNT(*) FROM "job_record" WHERE "is_settled" = $1`
	if query != expected {
		t.Errorf("Expected query %q, got %q", expected, query)
	}
	if len(args) != 1 || args[0] != true {
		t.Errorf("Expected args [true], got %v", args)
	}
}

func TestBuildListQuery_Flavors(t *testing.T) {
	tests := []struct {
		name     string
		flavor   Flavor
		expected string
	}{
		{
			name:     "postgres",
			flavor:   Postgres,
			expected: `SELECT "id" FROM "jobs" WHERE "queue_name" = $1 AND "state" IN ($2, $3) ORDER BY "created_at" ASC LIMIT $4`,
		},
		{
			name:     "sqlite",
			flavor:   SQLite,
			expected: `SELECT "id" FROM "jobs" WHERE "queue_name" = ? AND "state" IN (?, ?) ORDER BY "created_at" ASC LIMIT ?`,
		},
		{
			name:     "mysql",
			flavor:   MySQL,
			expected: "SELECT `id` FROM `jobs` WHERE `queue_name` = ? AND `state` IN (?, ?) ORDER BY `created_at` ASC LIMIT ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewListQueryOptions("jobs",
				WithFlavor(tt.flavor),
				WithColumns("id"),
				WithCondition(WhereCond("queue_name", Equal, "email")),
				WithCondition(WhereCond("state", In, []string{"pending", "retrying"})),
				WithOrderBy("created_at", "asc"),
				WithLimit(1),
			)
			query, args := BuildListQuery(opts)
			if query != tt.expected {
				t.Errorf("Expected query %q, got %q", tt.expected, query)
			}
			want := []any{"email", "pending", "retrying", 1}
			if !reflect.DeepEqual(args, want) {
				t.Errorf("Expected args %v, got %v", want, args)
			}
		})
	}
}

func TestBuildListQuery_EmptyInMatchesNothing(t *testing.T) {
	opts := NewListQueryOptions("jobs",
		WithCondition(WhereCond("id", In, []string{})),
		WithCondition(WhereCond("id", NotIn, []string{})),
	)
	query, args := BuildListQuery(opts)

	expected := `SELECT * FROM "jobs" WHERE 1 = 0`
	if query != expected {
		t.Errorf("Expected query %q, got %q", expected, query)
	}
	if len(args) != 0 {
		t.Errorf("Expected 0 args, got %d", len(args))
	}
}

func TestBuildListQuery_NotInAndNull(t *testing.T) {
	opts := NewListQueryOptions("jobs",
		WithCondition(WhereCond("id", NotIn, []string{"a", "b"})),
		WithCondition(WhereCond("settled_at", IsNull, nil)),
	)
	query, args := BuildListQuery(opts)

	expected := `SELECT * FROM "jobs" WHERE "id" NOT IN ($1, $2) AND "settled_at" IS NULL`
	if query != expected {
		t.Errorf("Expected query %q, got %q", expected, query)
	}
	if len(args) != 2 {
		t.Errorf("Expected 2 args, got %d", len(args))
	}
}

func TestBuildListQuery_WhereCustom_RepeatedPlaceholder(t *testing.T) {
	opts := NewListQueryOptions("jobs",
		WithFlavor(MySQL),
		WithCondition(WhereCond("queue_name", Equal, "q")),
		WithCondition(WhereRawCond("(created_at > $1 OR updated_at > $1)", "t")),
	)
	query, args := BuildListQuery(opts)

	expected := "SELECT * FROM `jobs` WHERE `queue_name` = ? AND (created_at > ? OR updated_at > ?)"
	if query != expected {
		t.Errorf("Expected query %q, got %q", expected, query)
	}
	if !reflect.DeepEqual(args, []any{"q", "t", "t"}) {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestBuildListQuery_OrderTieBreakAndPagination(t *testing.T) {
	opts := NewListQueryOptions("jobs",
		WithOrderBy("created_at", "DESC"),
		WithOrderBy("id", "DESC"),
		WithLimit(20),
		WithOffset(40),
	)
	query, args := BuildListQuery(opts)

	expected := `SELECT * FROM "jobs" ORDER BY "created_at" DESC, "id" DESC LIMIT $1 OFFSET $2`
	if query != expected {
		t.Errorf("Expected query %q, got %q", expected, query)
	}
	if !reflect.DeepEqual(args, []any{20, 40}) {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestBuildListQuery_Suffix(t *testing.T) {
	opts := NewListQueryOptions("jobs",
		WithLimit(1),
		WithSuffix("FOR UPDATE SKIP LOCKED"),
	)
	query, _ := BuildListQuery(opts)
	if !strings.HasSuffix(query, "LIMIT $1 FOR UPDATE SKIP LOCKED") {
		t.Errorf("Expected lock suffix, got %q", query)
	}
}

func TestBuildDeleteQuery(t *testing.T) {
	opts := NewListQueryOptions("app_job_record",
		WithFlavor(SQLite),
		WithCondition(WhereCond("is_settled", Equal, true)),
		WithCondition(WhereCond("settled_at", LessThan, "cutoff")),
		WithCondition(WhereCond("queue_name", In, []string{"q1"})),
	)
	query, args := BuildDeleteQuery(opts)

	expected := `DELETE FROM "app_job_record" WHERE "is_settled" = ? AND "settled_at" < ? AND "queue_name" IN (?)`
	if query != expected {
		t.Errorf("Expected query %q, got %q", expected, query)
	}
	if len(args) != 3 {
		t.Errorf("Expected 3 args, got %d", len(args))
	}
}

func TestBuildListQuery_SQLInjectionPrevention(t *testing.T) {
	opts := NewListQueryOptions("jobs",
		WithCondition(WhereCond(`state"; DROP TABLE jobs; --`, Equal, "x")),
	)
	query, _ := BuildListQuery(opts)
	if !strings.Contains(query, `"state""; DROP TABLE jobs; --"`) {
		t.Errorf("Expected identifier to be quoted, got %q", query)
	}

	mysqlOpts := NewListQueryOptions("jobs",
		WithFlavor(MySQL),
		WithCondition(WhereCond("state` = 1 --", Equal, "x")),
	)
	query, _ = BuildListQuery(mysqlOpts)
	if !strings.Contains(query, "`state`` = 1 --`") {
		t.Errorf("Expected backtick to be escaped, got %q", query)
	}
}
