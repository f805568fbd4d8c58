package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data/database"
	"github.com/target/mmk-jobqueue/internal/data/pgxutil"
	jobdomain "github.com/target/mmk-jobqueue/internal/domain/job"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	apperrors "github.com/target/mmk-jobqueue/internal/errors"
)

// SQLStrategyOptions configures a SQLJobQueueStrategy.
type SQLStrategyOptions struct {
	Dialect      Dialect                  // Required
	TablePrefix  string                   // Optional
	Backoff      *jobdomain.BackoffPolicy // Optional; defaults to a constant 1s backoff
	TimeProvider TimeProvider             // Optional
}

// SQLJobQueueStrategy stores jobs in the job_record table of a shared SQL database.
// On dialects with row locks several processes may consume the same queues safely.
type SQLJobQueueStrategy struct {
	dialect Dialect
	table   string
	backoff *jobdomain.BackoffPolicy
	clock   TimeProvider

	mu     sync.RWMutex
	db     *sql.DB
	logger *slog.Logger
}

var _ core.InspectableJobQueueStrategy = (*SQLJobQueueStrategy)(nil)

// claimRetries bounds how often a claim transaction is replayed after a deadlock.
const claimRetries = 3

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLJobQueueStrategy creates an uninitialised strategy; call Init before use.
func NewSQLJobQueueStrategy(opts SQLStrategyOptions) *SQLJobQueueStrategy {
	dialect := opts.Dialect
	if dialect.Name == "" {
		dialect = PostgresDialect
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = jobdomain.NewBackoffPolicy(nil)
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = systemClock{}
	}
	return &SQLJobQueueStrategy{
		dialect: dialect,
		table:   opts.TablePrefix + "job_record",
		backoff: backoff,
		clock:   clock,
		logger:  slog.Default(),
	}
}

// Init binds the strategy to deps.DB.
func (s *SQLJobQueueStrategy) Init(_ context.Context, deps core.StrategyDeps) error {
	if deps.DB == nil {
		return ErrDatabaseRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = deps.DB
	s.logger = logger.With("component", "sql_job_queue", "dialect", s.dialect.Name)
	return nil
}

// Destroy detaches the strategy from its database. The connection pool is owned by the caller.
func (s *SQLJobQueueStrategy) Destroy(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = nil
	return nil
}

// Dialect returns the dialect the strategy was built for.
func (s *SQLJobQueueStrategy) Dialect() Dialect {
	return s.dialect
}

func (s *SQLJobQueueStrategy) conn() (*sql.DB, *slog.Logger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, nil, ErrStrategyNotInitialized
	}
	return s.db, s.logger, nil
}

func (s *SQLJobQueueStrategy) now() time.Time {
	return dbTime(s.clock.Now())
}

func (s *SQLJobQueueStrategy) listOptions(opts ...database.ListQueryOption) *database.ListQueryOptions {
	base := []database.ListQueryOption{database.WithFlavor(s.dialect.Flavor())}
	return database.NewListQueryOptions(s.table, append(base, opts...)...)
}

// validID filters IDs Postgres would reject as malformed UUIDs; such IDs can never match a row.
func (s *SQLJobQueueStrategy) validID(id string) bool {
	if s.dialect.Name != PostgresDialect.Name {
		return id != ""
	}
	return uuid.Validate(id) == nil
}

// Add inserts job, joining opts.Tx when set.
func (s *SQLJobQueueStrategy) Add(ctx context.Context, job *model.Job, opts core.AddOptions) (*model.Job, error) {
	db, logger, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}

	stored := job.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.State == "" {
		stored.State = model.JobStatePending
	}
	if len(stored.Data) == 0 {
		stored.Data = []byte(`{}`)
	}
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.CreatedAt = dbTime(stored.CreatedAt)
	stored.UpdatedAt = now
	if err := s.constrain(ctx, logger, stored); err != nil {
		return nil, err
	}

	var q querier = db
	if opts.Tx != nil {
		q = opts.Tx
	}

	f := s.dialect.Flavor()
	cols := make([]string, len(jobRecordColumns)+1)
	placeholders := make([]string, len(cols))
	for i, c := range append(slices.Clone(jobRecordColumns), "is_settled") {
		cols[i] = f.Quote(c)
		placeholders[i] = f.Placeholder(i + 1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		f.Quote(s.table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := q.ExecContext(ctx, query,
		stored.ID,
		stored.CreatedAt,
		stored.UpdatedAt,
		stored.QueueName,
		string(stored.Data),
		string(stored.State),
		stored.Progress,
		nullRawArg(stored.Result),
		nullStringArg(stored.Error),
		nullTimeArg(stored.StartedAt),
		nullTimeArg(stored.SettledAt),
		stored.Retries,
		stored.Attempts,
		stored.IsSettled(),
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
	}
	if !stored.IsSettled() {
		if err := s.notifyAdded(ctx, q, stored.QueueName, stored.ID); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// constrain shrinks job data in place for dialects with a capped data column.
func (s *SQLJobQueueStrategy) constrain(ctx context.Context, logger *slog.Logger, job *model.Job) error {
	if !s.dialect.SizeConstrained {
		return nil
	}
	originalSize := len(job.Data)
	data, truncated, err := constrainData(job.Data)
	if err != nil {
		return fmt.Errorf("constrain job data: %w", err)
	}
	if len(truncated) == 0 {
		return nil
	}
	keys := make([]string, len(truncated))
	for i, t := range truncated {
		keys[i] = fmt.Sprintf("%s (%d bytes)", t.Path, t.Size)
	}
	logger.WarnContext(ctx, "job data too large for dialect; truncated long string values",
		"queue", job.QueueName,
		"job_id", job.ID,
		"size_kb", originalSize/1024,
		"truncated_keys", strings.Join(keys, ", "),
	)
	job.Data = data
	return nil
}

// Next claims the oldest eligible job of queueName. On lock-capable dialects the select and claim
// share a SKIP LOCKED transaction so concurrent consumers never receive the same job.
func (s *SQLJobQueueStrategy) Next(ctx context.Context, queueName string, excluding []string) (*model.Job, error) {
	db, _, err := s.conn()
	if err != nil {
		return nil, err
	}

	excluded := make([]string, 0, len(excluding))
	for _, id := range excluding {
		if s.validID(id) {
			excluded = append(excluded, id)
		}
	}

	for {
		var (
			claimed *model.Job
			skip    string
		)
		attempt := func(q querier) error {
			candidate, selErr := s.selectCandidate(ctx, q, queueName, excluded)
			if selErr != nil {
				return selErr
			}
			now := s.now()
			if !s.backoff.Eligible(candidate, now) {
				skip = candidate.ID
				return nil
			}
			previous := candidate.State
			candidate.Start(now)
			candidate.UpdatedAt = now
			ok, claimErr := s.claim(ctx, q, candidate, previous)
			if claimErr != nil {
				return claimErr
			}
			if !ok {
				// Taken by another consumer between select and update.
				skip = candidate.ID
				return nil
			}
			claimed = candidate
			return nil
		}

		if s.dialect.SupportsLocking() {
			err = pgxutil.WithSQLTx(ctx, db, pgxutil.SQLTxConfig{
				Fn: func(tx *sql.Tx) error {
					claimed, skip = nil, ""
					return attempt(tx)
				},
				Retries:     claimRetries,
				IsRetryable: apperrors.IsRetryableDBError,
			})
		} else {
			err = attempt(db)
		}
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
		excluded = append(excluded, skip)
	}
}

func (s *SQLJobQueueStrategy) selectCandidate(
	ctx context.Context,
	q querier,
	queueName string,
	excluded []string,
) (*model.Job, error) {
	query, args := database.BuildListQuery(s.listOptions(
		database.WithColumns(jobRecordColumns...),
		database.WithCondition(database.WhereCond("queue_name", database.Equal, queueName)),
		database.WithCondition(database.WhereCond("state", database.In,
			[]string{string(model.JobStatePending), string(model.JobStateRetrying)})),
		database.WithCondition(database.WhereCond("id", database.NotIn, excluded)),
		database.WithOrderBy("created_at", "ASC"),
		database.WithOrderBy("id", "ASC"),
		database.WithLimit(1),
		database.WithSuffix(s.dialect.LockClause),
	))
	job, err := scanJob(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("select next job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// claim writes the running job, succeeding only while the row is still in the state it was read in.
func (s *SQLJobQueueStrategy) claim(ctx context.Context, q querier, job *model.Job, previous model.JobState) (bool, error) {
	f := s.dialect.Flavor()
	query := fmt.Sprintf(`UPDATE %s SET %s = %s, %s = %s, %s = %s, %s = %s WHERE %s = %s AND %s = %s`,
		f.Quote(s.table),
		f.Quote("state"), f.Placeholder(1),
		f.Quote("attempts"), f.Placeholder(2),
		f.Quote("started_at"), f.Placeholder(3),
		f.Quote("updated_at"), f.Placeholder(4),
		f.Quote("id"), f.Placeholder(5),
		f.Quote("state"), f.Placeholder(6),
	)
	res, err := q.ExecContext(ctx, query,
		string(job.State), job.Attempts, nullTimeArg(job.StartedAt), job.UpdatedAt, job.ID, string(previous))
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", job.ID, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	return n == 1, nil
}

var updateColumns = []string{
	"updated_at",
	"data",
	"state",
	"progress",
	"result",
	"error",
	"started_at",
	"settled_at",
	"is_settled",
	"retries",
	"attempts",
}

// Update persists job unless its stored row is already settled. job.UpdatedAt is refreshed.
func (s *SQLJobQueueStrategy) Update(ctx context.Context, job *model.Job) error {
	db, logger, err := s.conn()
	if err != nil {
		return err
	}
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	if !s.validID(job.ID) {
		return nil
	}

	job.UpdatedAt = s.now()
	stored := job.Clone()
	if err := s.constrain(ctx, logger, stored); err != nil {
		return err
	}

	f := s.dialect.Flavor()
	sets := make([]string, len(updateColumns))
	for i, c := range updateColumns {
		sets[i] = f.Quote(c) + " = " + f.Placeholder(i+1)
	}
	n := len(updateColumns)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = %s AND %s IS NULL`,
		f.Quote(s.table), strings.Join(sets, ", "),
		f.Quote("id"), f.Placeholder(n+1), f.Quote("settled_at"))

	if _, err := db.ExecContext(ctx, query,
		stored.UpdatedAt,
		string(stored.Data),
		string(stored.State),
		stored.Progress,
		nullRawArg(stored.Result),
		nullStringArg(stored.Error),
		nullTimeArg(stored.StartedAt),
		nullTimeArg(stored.SettledAt),
		stored.IsSettled(),
		stored.Retries,
		stored.Attempts,
		stored.ID,
	); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, apperrors.MapDBError(err))
	}
	return nil
}

// FindOne returns the job with the given ID or model.ErrJobNotFound.
func (s *SQLJobQueueStrategy) FindOne(ctx context.Context, id string) (*model.Job, error) {
	db, _, err := s.conn()
	if err != nil {
		return nil, err
	}
	if !s.validID(id) {
		return nil, model.ErrJobNotFound
	}
	query, args := database.BuildListQuery(s.listOptions(
		database.WithColumns(jobRecordColumns...),
		database.WithCondition(database.WhereCond("id", database.Equal, id)),
	))
	job, err := scanJob(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, apperrors.MapDBError(err))
	}
	return job, nil
}

func (s *SQLJobQueueStrategy) filterConditions(opts model.JobListOptions) []database.Condition {
	var conds []database.Condition
	if len(opts.QueueNames) > 0 {
		conds = append(conds, database.WhereCond("queue_name", database.In, opts.QueueNames))
	}
	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, st := range opts.States {
			states[i] = string(st)
		}
		conds = append(conds, database.WhereCond("state", database.In, states))
	}
	if opts.Settled != nil {
		conds = append(conds, database.WhereCond("is_settled", database.Equal, *opts.Settled))
	}
	return conds
}

// FindMany returns a filtered page of jobs ordered by creation time.
func (s *SQLJobQueueStrategy) FindMany(ctx context.Context, opts model.JobListOptions) (*model.JobList, error) {
	db, _, err := s.conn()
	if err != nil {
		return nil, err
	}
	opts.Normalize()
	conds := s.filterConditions(opts)

	countQuery, countArgs := database.BuildListQuery(s.listOptions(
		database.WithCountOnly(),
		database.WithConditions(conds...),
	))
	var total int
	if err := db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", apperrors.MapDBError(err))
	}

	dir := "ASC"
	if opts.SortDesc {
		dir = "DESC"
	}
	query, args := database.BuildListQuery(s.listOptions(
		database.WithColumns(jobRecordColumns...),
		database.WithConditions(conds...),
		database.WithOrderBy("created_at", dir),
		database.WithOrderBy("id", dir),
		database.WithLimit(opts.Limit),
		database.WithOffset(opts.Offset),
	))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", apperrors.MapDBError(err))
	}
	items, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	return &model.JobList{Items: items, TotalItems: total}, nil
}

// FindManyByID returns the jobs matching ids; unknown IDs are skipped.
func (s *SQLJobQueueStrategy) FindManyByID(ctx context.Context, ids []string) ([]*model.Job, error) {
	db, _, err := s.conn()
	if err != nil {
		return nil, err
	}
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.validID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []*model.Job{}, nil
	}
	query, args := database.BuildListQuery(s.listOptions(
		database.WithColumns(jobRecordColumns...),
		database.WithCondition(database.WhereCond("id", database.In, valid)),
	))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find jobs by id: %w", apperrors.MapDBError(err))
	}
	return scanJobs(rows)
}

// RemoveSettledJobs deletes settled jobs settled before olderThan (now when zero).
func (s *SQLJobQueueStrategy) RemoveSettledJobs(ctx context.Context, queueNames []string, olderThan time.Time) (int64, error) {
	db, logger, err := s.conn()
	if err != nil {
		return 0, err
	}
	if olderThan.IsZero() {
		olderThan = s.clock.Now()
	}
	conds := []database.Condition{
		database.WhereCond("is_settled", database.Equal, true),
		database.WhereCond("settled_at", database.LessThan, dbTime(olderThan)),
	}
	if len(queueNames) > 0 {
		conds = append(conds, database.WhereCond("queue_name", database.In, queueNames))
	}
	query, args := database.BuildDeleteQuery(s.listOptions(database.WithConditions(conds...)))

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("remove settled jobs: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove settled jobs: %w", err)
	}
	if n > 0 {
		logger.DebugContext(ctx, "removed settled jobs", "count", n, "older_than", olderThan, "queues", queueNames)
	}
	return n, nil
}
