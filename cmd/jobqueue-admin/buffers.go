package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/target/mmk-jobqueue/internal/bootstrap"
	"github.com/target/mmk-jobqueue/internal/service"
)

type bufferOptions struct {
	BufferIDs []string
}

func runBufferSize(cmdCtx *commandContext, args []string) error {
	opts, err := parseBufferFlags("buffer-size", args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
		return bufferSize(ctx, cmdCtx.Out, svcs.Queues, opts)
	})
}

func runFlushBuffers(cmdCtx *commandContext, args []string) error {
	opts, err := parseBufferFlags("flush-buffers", args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
		return flushBuffers(ctx, cmdCtx.Out, svcs.Queues, opts)
	})
}

func bufferSize(ctx context.Context, w io.Writer, svc *service.JobQueueService, opts bufferOptions) error {
	sizes, err := svc.BufferSize(ctx, opts.BufferIDs...)
	if err != nil {
		return fmt.Errorf("buffer size: %w", err)
	}
	if len(sizes) == 0 {
		return writeln(w, "(no buffered jobs)")
	}

	ids := make([]string, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "BUFFER\tJOBS\n"); err != nil {
		return fmt.Errorf("print header: %w", err)
	}
	for _, id := range ids {
		if err := writef(tw, "%s\t%d\n", id, sizes[id]); err != nil {
			return fmt.Errorf("print buffer: %w", err)
		}
	}
	return tw.Flush()
}

func flushBuffers(ctx context.Context, w io.Writer, svc *service.JobQueueService, opts bufferOptions) error {
	submitted, err := svc.Flush(ctx, opts.BufferIDs...)
	for _, job := range submitted {
		if writeErr := writef(w, "submitted %s on %s\n", job.ID, job.QueueName); writeErr != nil {
			return fmt.Errorf("print job: %w", writeErr)
		}
	}
	if err != nil {
		return fmt.Errorf("flush buffers: %w", err)
	}
	return writef(w, "flushed %d jobs\n", len(submitted))
}

// parseBufferFlags accepts buffer IDs via --buffer and as positional arguments.
func parseBufferFlags(name string, args []string) (bufferOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var buffers string
	fs.StringVar(&buffers, "buffer", "", "Comma-separated buffer IDs (all buffers when empty)")
	if err := fs.Parse(args); err != nil {
		return bufferOptions{}, err
	}
	ids := splitList(buffers)
	ids = append(ids, fs.Args()...)
	return bufferOptions{BufferIDs: ids}, nil
}
