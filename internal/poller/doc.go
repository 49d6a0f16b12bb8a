// Package poller runs the poll-validate-parse-notify cycle.
//
// One Loop owns one State. Cycles never overlap: Run executes a cycle, then
// sleeps a fixed interval, until its context is canceled. Every failure is
// caught at the cycle boundary, rendered as "Program failure: <cause>" and
// sent once per distinct text.
package poller
