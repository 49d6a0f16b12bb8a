// Package notifier delivers rendered messages to the single configured
// recipient.
//
// # Delivery
//
// The service delegates the actual request to a transport.Sender (the
// Telegram adapter in production). Sends are serialized so at most one
// request to the recipient is in flight, paced by a token bucket and bounded by
// a per-attempt timeout. A failed send is repeated, with jittered exponential
// backoff, only when the transport marks it as never delivered; a timeout
// after the platform accepted the message must not produce a second copy.
//
// # Errors
//
// Every failure returned by Notify wraps ErrSendMessage. Whether a failure is
// fatal to anything is the caller's decision; the poll loop folds status-send
// failures into its error reporting and only logs failures of error reports.
package notifier
