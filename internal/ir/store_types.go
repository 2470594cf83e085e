package ir

// NOTE: These are store-layer records, not part of the encoded formats.

// SessionState is the persisted engine state of one boot session.
// A session starts at engine (re)initialization and ends at the next reset.
type SessionState struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Locked  bool   `json:"locked"`
}

// PolicyRecord is a registered policy as journaled by the store.
type PolicyRecord struct {
	Seq    int64  `json:"seq"` // registration order within the session
	ID     string `json:"id"`  // content-addressed PolicyID
	Policy Policy `json:"policy"`
}
