package store

// Serializable is implemented by stored object types that can encode
// their full persisted state to bytes and rebuild themselves from it —
// the field list a real on-disk or on-wire Data Manager backend would
// need (link handles, tuning parameters, size, and so on). Manager's own
// in-memory backend never touches a disk or a wire, but it still round-
// trips every Serializable write through Marshal/Unmarshal at Commit, so
// the contract stays exercised even though nothing here persists past
// process exit.
type Serializable interface {
	MarshalState() ([]byte, error)
	UnmarshalState([]byte) error
}
