// Package scheduler implements the durable scheduled task queue.
//
// Tasks are claimed atomically (status moves to processing in the same
// statement that selects them) so concurrent processors never run one task
// twice. A failed attempt is retried after a backoff until the task's retry
// budget is spent: a task with MaxRetries=N gets at most N+1 attempts.
//
// The queue is driven from outside, either by the Processor ticker or by an
// explicit ProcessDue call from the admin API or CLI.
package scheduler
