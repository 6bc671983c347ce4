// Package runner drives the queue set: it takes admissible commands,
// resolves an executor, runs it and re-files the command by outcome.
//
// Key features:
//   - A small pool of workers, woken by submissions, RunNow, retry
//     deadlines and a periodic tick
//   - One executing command per account (enforced by queue.Set.Take)
//   - Foreground gating: background commands park in SKIPPED while the
//     user is active unless sync-while-using is on
//   - Fresh execution id (uuid) per attempt; executor panics become hard errors
//   - Timeline state, sync markers and notifications flushed after each run
//   - Queue set saved after every change; each attempt appended to command_log
//
// Outcome handling:
//   - Success → command discarded
//   - Soft error with retries left → RETRY with capped exponential backoff
//   - Soft error with no retries left → ERROR ("retry limit exceeded")
//   - Hard error → ERROR
//   - A newer instance queued while the command ran → older one dropped
package runner
