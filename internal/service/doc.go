package service

// Package service implements execution and supervision of scrape subprocesses.
//
// Overview
// The Supervisor creates jobs in a jobs.Registry and dispatches a scrape for
// each of them in its own goroutine. The request which submitted a job never
// waits for it, clients poll the registry through the HTTP gateway. A gocron
// schedule periodically evicts jobs older than the retention period.
//
// A TaskRunner executes one scrape for one job. It marks the job Running,
// starts the configured script with the task arguments and the KANTAN_*
// credentials, and translates the progress protocol on stdout into registry
// updates. The first terminal outcome wins: natural exit, timeout or
// cancellation. Everything which comes later is dropped.
//
// Process is a thin, opinionated wrapper around os/exec:
//   - starts the process in its own process group (unix)
//   - calls a LineFunc for every stdout line while the process runs
//   - captures at most 1MiB of stdout and stderr
//   - kills the whole group on Kill or context cancellation
//
// Data flow:
//
//   Supervisor             TaskRunner{job}            Process{cmd}
//       |                       |                          |
//   Submit -> Create            |                          |
//       | go RunTask ---------->| Update(Running, 10)      |
//       |                       | Start ------------------>| os/exec.Start
//       |                       |<-------- PROGRESS line --| stdout
//       |                       | Update(progress)         |
//       |                       |<-------- CSV_FILE line --|
//       |                       |<-------- Wait -----------| (process exits)
//       |                       | Finish(Completed|Failed) |
//
// Invariants:
//   - Each job reaches exactly one terminal state.
//   - Progress updates are applied in stdout order and never after the
//     terminal state.
//   - A timed out scrape is killed together with its children.
//   - Shutdown cancels running scrapes, their jobs fail.
//
// internal/service/task_test.go is the best source about how the protocol
// maps to job states.
