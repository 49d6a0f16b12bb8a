// Package homework holds the payload contract of the homework status API:
// the verdict table, the response validator and the status parser that
// renders a notification text from a single record.
//
// Everything here is pure; the HTTP exchange lives in internal/statusapi and
// delivery in internal/notifier.
package homework
