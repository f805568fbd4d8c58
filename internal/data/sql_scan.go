package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// jobRecordColumns lists the selected job_record columns in scan order.
var jobRecordColumns = []string{
	"id",
	"created_at",
	"updated_at",
	"queue_name",
	"data",
	"state",
	"progress",
	"result",
	"error",
	"started_at",
	"settled_at",
	"retries",
	"attempts",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one job_record row selected with jobRecordColumns.
func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job       model.Job
		data      string
		state     string
		result    sql.NullString
		errMsg    sql.NullString
		startedAt sql.NullTime
		settledAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.QueueName,
		&data,
		&state,
		&job.Progress,
		&result,
		&errMsg,
		&startedAt,
		&settledAt,
		&job.Retries,
		&job.Attempts,
	); err != nil {
		return nil, err
	}

	job.State = model.JobState(state)
	if !job.State.Valid() {
		return nil, fmt.Errorf("job %s has unknown state %q", job.ID, state)
	}
	job.Data = json.RawMessage(data)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		msg := errMsg.String
		job.Error = &msg
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.StartedAt = nullTimePtr(startedAt)
	job.SettledAt = nullTimePtr(settledAt)
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*model.Job, error) {
	defer func() { _ = rows.Close() }()
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

func nullRawArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullStringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
