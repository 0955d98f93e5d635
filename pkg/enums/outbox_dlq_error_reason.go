package enums

// OutboxDLQErrorReason records why the publisher parked a payout event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: the broker kept failing until the retry budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the broker refused the message outright.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonUndecodable: the stored row does not decode into its registered payload.
	OutboxDLQReasonUndecodable OutboxDLQErrorReason = "undecodable"
	// OutboxDLQReasonUnroutable: no publisher exists for the event's topic.
	OutboxDLQReasonUnroutable OutboxDLQErrorReason = "unroutable"
)

var validOutboxDLQErrorReasons = map[OutboxDLQErrorReason]bool{
	OutboxDLQReasonMaxAttempts:  true,
	OutboxDLQReasonNonRetryable: true,
	OutboxDLQReasonUndecodable:  true,
	OutboxDLQReasonUnroutable:   true,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	return validOutboxDLQErrorReasons[r]
}

// Replayable reports whether republishing could succeed once the cause is
// fixed outside the row. Undecodable rows need their payload repaired first.
func (r OutboxDLQErrorReason) Replayable() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonUnroutable
}
