package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// lyraTaskStatusChannel is the Postgres NOTIFY channel task status changes
// are published on. The payload is the task_id.
const lyraTaskStatusChannel = "lyra_task_status"

// notifyListener owns a single dedicated pgx connection and serializes every
// LISTEN/subscriber registration through one receive-loop goroutine, exactly
// as the teacher's NotifyListener avoids "conn busy" races with
// WaitForNotification: no other goroutine ever touches this connection.
type notifyListener struct {
	conn   *pgx.Conn
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	subscribers map[string][]chan struct{} // task_id -> waiters
}

func newNotifyListener(ctx context.Context, dsn string) (*notifyListener, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "LISTEN "+lyraTaskStatusChannel); err != nil {
		conn.Close(ctx)
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	l := &notifyListener{
		conn:        conn,
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[string][]chan struct{}),
	}
	go l.run(listenCtx)
	return l, nil
}

// run is the sole goroutine that ever calls WaitForNotification.
func (l *notifyListener) run(ctx context.Context) {
	defer close(l.done)
	for {
		notification, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Notify listener wait failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		l.wake(notification.Payload)
	}
}

// wake signals every waiter registered for taskID.
func (l *notifyListener) wake(taskID string) {
	l.mu.Lock()
	waiters := l.subscribers[taskID]
	delete(l.subscribers, taskID)
	l.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// Wait blocks until taskID's status changes, ctx is cancelled, or timeout
// elapses — whichever comes first. Returns true if a status change was
// observed.
func (l *notifyListener) Wait(ctx context.Context, taskID string, timeout time.Duration) bool {
	ch := make(chan struct{})
	l.mu.Lock()
	l.subscribers[taskID] = append(l.subscribers[taskID], ch)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close stops the receive loop and closes the dedicated connection.
func (l *notifyListener) Close() {
	l.cancel()
	<-l.done
	_ = l.conn.Close(context.Background())
}

// notifyTaskStatus publishes a NOTIFY for taskID on the same transaction's
// connection so waiters wake only after the status change is committed.
func notifyTaskStatus(ctx context.Context, tx pgx.Tx, taskID string) error {
	_, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", lyraTaskStatusChannel, taskID)
	return err
}
