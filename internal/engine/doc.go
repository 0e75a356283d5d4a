// Package engine provides the distributed executor. A single dispatch loop
// owns every task and worker record. It resolves backends through the
// registry, picks workers with a pluggable balancer, enforces per-task
// timeouts with watchdogs, retries transient failures within a budget and
// hands terminal records to an asynchronous recorder.
package engine
