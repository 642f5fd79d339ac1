package collab

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// SyncStatus reflects the most recent save attempt only.
type SyncStatus int

const (
	StatusSaved SyncStatus = iota
	StatusSaving
	StatusError
)

func (s SyncStatus) String() string {
	switch s {
	case StatusSaved:
		return "Saved"
	case StatusSaving:
		return "Saving..."
	case StatusError:
		return "Error Saving"
	}
	return "unknown"
}
