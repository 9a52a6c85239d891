package transport

import "context"

// Sender is the message-transport collaborator. Implementations send one
// message to one recipient handle over a numbered phone line and must
// return a TransportTransientError for retryable failures (rate limits,
// network) and a TransportPermanentError otherwise.
type Sender interface {
	SendText(ctx context.Context, handle string, line int, text string) error
	SendImage(ctx context.Context, handle string, line int, url, caption string) error
	SendVideo(ctx context.Context, handle string, line int, url, caption string) error
	SendDocument(ctx context.Context, handle string, line int, url, caption, filename string) error
}

// NormalizeLine maps a phone line index of -1 (and any other negative
// value) to line 0. The CRM frontend historically sent -1 for "no line
// selected"; kept as a compatibility rule, likely a historical bug rather
// than intentional semantics.
func NormalizeLine(line int) int {
	if line < 0 {
		return 0
	}
	return line
}
