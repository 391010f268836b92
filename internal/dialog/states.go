package dialog

// State is the interaction phase of the voice dialog.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateResolving State = "resolving"
	StateSpeaking  State = "speaking"
	StateCooldown  State = "cooldown"
)

// Snapshot is the controller's externally visible condition, published on
// every transition.
type Snapshot struct {
	State      State
	Status     string
	Transcript string
	CountryID  string
	Epoch      uint64
}
