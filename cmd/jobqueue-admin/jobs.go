package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/mmk-jobqueue/internal/bootstrap"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/reqctx"
	"github.com/target/mmk-jobqueue/internal/service"
)

type listJobsOptions struct {
	Queues  []string
	States  []model.JobState
	Settled *bool
	Limit   int
	Offset  int
	Desc    bool
	JSON    bool
}

type jobIDOptions struct {
	ID string
}

type pruneOptions struct {
	OlderThan time.Duration
	Queues    []string
	Yes       bool
}

type enqueueOptions struct {
	Queue   string
	Data    json.RawMessage
	Retries *int
	APIType string
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
		return listJobs(ctx, cmdCtx.Out, svcs.Queues, opts)
	})
}

func runGetJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobIDFlags("get-job", args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
		return getJob(ctx, cmdCtx.Out, svcs.Queues, opts.ID)
	})
}

func runCancelJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobIDFlags("cancel-job", args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
		return cancelJob(ctx, cmdCtx.Out, svcs.Queues, opts.ID)
	})
}

func runPrune(cmdCtx *commandContext, args []string) error {
	opts, err := parsePruneFlags(args)
	if err != nil {
		return err
	}
	if !opts.Yes {
		return errors.New("prune deletes jobs permanently; re-run with --yes to confirm")
	}
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
		return pruneJobs(ctx, cmdCtx.Out, svcs.Queues, opts, time.Now())
	})
}

func runEnqueue(cmdCtx *commandContext, args []string) error {
	opts, err := parseEnqueueFlags(args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
		return enqueueJob(ctx, cmdCtx.Out, svcs.Queues, opts)
	})
}

func listJobs(ctx context.Context, w io.Writer, svc *service.JobQueueService, opts listJobsOptions) error {
	list, err := svc.GetJobs(ctx, model.JobListOptions{
		QueueNames: opts.Queues,
		States:     opts.States,
		Settled:    opts.Settled,
		Limit:      opts.Limit,
		Offset:     opts.Offset,
		SortDesc:   opts.Desc,
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if opts.JSON {
		return writeJSON(w, list)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tQUEUE\tSTATE\tPROGRESS\tATTEMPTS\tCREATED\tERROR\n"); err != nil {
		return fmt.Errorf("print header: %w", err)
	}
	for _, job := range list.Items {
		if err := writef(tw, "%s\t%s\t%s\t%d%%\t%d/%d\t%s\t%s\n",
			job.ID,
			job.QueueName,
			job.State,
			job.Progress,
			job.Attempts,
			job.Retries+1,
			job.CreatedAt.UTC().Format(time.RFC3339),
			truncate(job.ErrorMessage(), 60),
		); err != nil {
			return fmt.Errorf("print job: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush table: %w", err)
	}
	return writef(w, "\nShowing %d of %d jobs\n", len(list.Items), list.TotalItems)
}

func getJob(ctx context.Context, w io.Writer, svc *service.JobQueueService, id string) error {
	job, err := svc.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job %s: %w", id, err)
	}
	return writeJSON(w, job)
}

func cancelJob(ctx context.Context, w io.Writer, svc *service.JobQueueService, id string) error {
	current, err := svc.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job %s: %w", id, err)
	}
	if current.IsSettled() {
		return writef(w, "job %s already settled as %s\n", current.ID, current.State)
	}

	job, err := svc.CancelJob(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if job.State != model.JobStateCancelled {
		return writef(w, "job %s already settled as %s\n", job.ID, job.State)
	}
	return writef(w, "job %s cancelled\n", job.ID)
}

func pruneJobs(ctx context.Context, w io.Writer, svc *service.JobQueueService, opts pruneOptions, now time.Time) error {
	cutoff := now.Add(-opts.OlderThan)
	removed, err := svc.RemoveSettledJobs(ctx, opts.Queues, cutoff)
	if err != nil {
		return fmt.Errorf("remove settled jobs: %w", err)
	}
	return writef(w, "removed %d settled jobs older than %s\n", removed, cutoff.UTC().Format(time.RFC3339))
}

func enqueueJob(ctx context.Context, w io.Writer, svc *service.JobQueueService, opts enqueueOptions) error {
	q, ok := svc.Queue(opts.Queue)
	if !ok {
		var err error
		q, err = svc.CreateQueue(ctx, opts.Queue, unconsumedHandler(opts.Queue))
		if err != nil {
			return err
		}
	}

	addOpts := service.AddOptions{Retries: opts.Retries}
	if opts.APIType != "" {
		addOpts.RequestContext = &reqctx.RequestContext{APIType: opts.APIType}
	}
	job, err := q.Add(ctx, opts.Data, addOpts)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if job.ID == "" {
		return writef(w, "job buffered for queue %s; it is submitted on the next flush\n", job.QueueName)
	}
	return writef(w, "job %s enqueued on %s\n", job.ID, job.QueueName)
}

// unconsumedHandler backs queues registered only to enqueue; the admin never consumes them.
func unconsumedHandler(queue string) func(context.Context, *model.Job) (any, error) {
	return func(context.Context, *model.Job) (any, error) {
		return nil, fmt.Errorf("queue %s is not consumed by jobqueue-admin", queue)
	}
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts    listJobsOptions
		queues  string
		states  string
		settled string
	)
	fs.StringVar(&queues, "queue", "", "Comma-separated queue names")
	fs.StringVar(&states, "state", "", "Comma-separated states (pending, running, completed, retrying, failed, cancelled)")
	fs.StringVar(&settled, "settled", "", "Filter by settlement: true or false")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum jobs to display")
	fs.IntVar(&opts.Offset, "offset", 0, "Number of jobs to skip")
	fs.BoolVar(&opts.Desc, "desc", false, "Newest jobs first")
	fs.BoolVar(&opts.JSON, "json", false, "Print the page as JSON")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}

	opts.Queues = splitList(queues)
	for _, raw := range splitList(states) {
		var state model.JobState
		if err := state.UnmarshalText([]byte(raw)); err != nil {
			return listJobsOptions{}, err
		}
		opts.States = append(opts.States, state)
	}
	if settled != "" {
		v, err := strconv.ParseBool(settled)
		if err != nil {
			return listJobsOptions{}, fmt.Errorf("--settled: %w", err)
		}
		opts.Settled = &v
	}
	if opts.Limit < 1 {
		return listJobsOptions{}, errors.New("--limit must be greater than zero")
	}
	if opts.Offset < 0 {
		return listJobsOptions{}, errors.New("--offset must not be negative")
	}
	return opts, nil
}

// parseJobIDFlags accepts the job ID as --id or as the only positional argument.
func parseJobIDFlags(name string, args []string) (jobIDOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobIDOptions
	fs.StringVar(&opts.ID, "id", "", "Job ID")
	if err := fs.Parse(args); err != nil {
		return jobIDOptions{}, err
	}
	if opts.ID == "" && fs.NArg() == 1 {
		opts.ID = fs.Arg(0)
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return jobIDOptions{}, errors.New("job ID is required (--id or positional argument)")
	}
	return opts, nil
}

func parsePruneFlags(args []string) (pruneOptions, error) {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts   pruneOptions
		queues string
	)
	fs.DurationVar(&opts.OlderThan, "older-than", 7*24*time.Hour, "Delete settled jobs older than this")
	fs.StringVar(&queues, "queue", "", "Comma-separated queue names (all queues when empty)")
	fs.BoolVar(&opts.Yes, "yes", false, "Confirm deletion")
	if err := fs.Parse(args); err != nil {
		return pruneOptions{}, err
	}
	if opts.OlderThan < 0 {
		return pruneOptions{}, errors.New("--older-than must not be negative")
	}
	opts.Queues = splitList(queues)
	return opts, nil
}

func parseEnqueueFlags(args []string) (enqueueOptions, error) {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts    enqueueOptions
		data    string
		retries int
	)
	fs.StringVar(&opts.Queue, "queue", "", "Queue name")
	fs.StringVar(&data, "data", "{}", "JSON payload")
	fs.IntVar(&retries, "retries", -1, "Extra attempts after a failure (queue default when negative)")
	fs.StringVar(&opts.APIType, "api-type", "", "Attach a request context with this API type")
	if err := fs.Parse(args); err != nil {
		return enqueueOptions{}, err
	}

	opts.Queue = strings.TrimSpace(opts.Queue)
	if opts.Queue == "" {
		return enqueueOptions{}, errors.New("--queue is required")
	}
	if !json.Valid([]byte(data)) {
		return enqueueOptions{}, errors.New("--data must be valid JSON")
	}
	opts.Data = json.RawMessage(data)
	if retries >= 0 {
		opts.Retries = &retries
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
