package sync

import "errors"

var (
	// ErrSendFailed wraps a rejected send or mark-read. Nothing is added to
	// the log when a send fails.
	ErrSendFailed = errors.New("send failed")

	// ErrFetchFailed wraps a rejected history read. The previous snapshot
	// stays valid.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrNoRecipient is returned when sending without a bound counterpart.
	ErrNoRecipient = errors.New("no recipient bound")

	// ErrEmptyMessage is returned for a send with no content and no
	// attachments.
	ErrEmptyMessage = errors.New("message has no content")

	// ErrNotStarted is returned by operations issued before Start.
	ErrNotStarted = errors.New("coordinator not started")

	// ErrClosed is returned by operations issued after Close.
	ErrClosed = errors.New("coordinator closed")
)
