package data

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	jobdomain "github.com/target/mmk-jobqueue/internal/domain/job"
	apperrors "github.com/target/mmk-jobqueue/internal/errors"
)

// ErrNotificationsUnsupported is returned by WaitForNotification on dialects without LISTEN/NOTIFY.
var ErrNotificationsUnsupported = errors.New("job notifications require the postgres dialect")

// maxChannelLen is Postgres' NAMEDATALEN minus the terminator.
const maxChannelLen = 63

var _ jobdomain.Waiter = (*SQLJobQueueStrategy)(nil)

// NotificationsSupported reports whether Add publishes job notifications.
func (s *SQLJobQueueStrategy) NotificationsSupported() bool {
	return s.dialect.Name == PostgresDialect.Name
}

// notifyChannel names the channel for queueName. Long names are hashed to stay within the identifier limit.
func (s *SQLJobQueueStrategy) notifyChannel(queueName string) string {
	channel := s.table + "_added_" + queueName
	if len(channel) <= maxChannelLen {
		return channel
	}
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(channel))
	return "job_added_" + strings.ReplaceAll(sum.String(), "-", "")
}

// notifyAdded publishes the job ID on its queue channel. Inside a transaction the notification
// is delivered on commit.
func (s *SQLJobQueueStrategy) notifyAdded(ctx context.Context, q querier, queueName, id string) error {
	if !s.NotificationsSupported() {
		return nil
	}
	if _, err := q.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, s.notifyChannel(queueName), id); err != nil {
		return fmt.Errorf("notify job added: %w", apperrors.MapDBError(err))
	}
	return nil
}

// WaitForNotification holds a dedicated connection, LISTENs on the queue channel and returns
// after the first notification or when ctx ends.
func (s *SQLJobQueueStrategy) WaitForNotification(ctx context.Context, queueName string) error {
	if !s.NotificationsSupported() {
		return ErrNotificationsUnsupported
	}
	db, logger, err := s.conn()
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.DebugContext(ctx, "release listen connection failed", "error", cerr)
		}
	}()

	channel := s.notifyChannel(queueName)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.WithoutCancel(ctx), "UNLISTEN "+quoted); execErr != nil {
			logger.DebugContext(ctx, "unlisten failed", "channel", channel, "error", execErr)
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
