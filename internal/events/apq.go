package events

// PersistedQueryHit is emitted when a hash-only request is served from the
// persisted-query store.
type PersistedQueryHit struct {
	Hash string
}

// PersistedQueryRegister is emitted when a hash+query pair is accepted for
// registration. The store write itself happens in the background.
type PersistedQueryRegister struct {
	Hash string
}

// PersistedQueryWriteFailure is emitted when a background registration write
// fails. The failure never reaches the request's own error channel.
type PersistedQueryWriteFailure struct {
	Hash string
	Err  error
}
