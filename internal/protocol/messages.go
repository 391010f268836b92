package protocol

import "time"

// UIEvent is a user action forwarded by the view layer.
type UIEvent struct {
	Type      string    `json:"type"`
	CountryID string    `json:"country_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UI event types.
const (
	UIEventPressMic        = "press_mic"
	UIEventTapPin          = "tap_pin"
	UIEventCloseCard       = "close_card"
	UIEventRequestRoute    = "request_route"
	UIEventRequestPanorama = "request_panorama"
)

// Intent describes a UI effect the dialog controller requests without
// performing it. The view layer and the map collaborator consume these.
type Intent struct {
	Type      string    `json:"type"`
	CountryID string    `json:"country_id,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Distance  float64   `json:"distance_m,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Intent types.
const (
	IntentFocusCountry = "focus_country"
	IntentShowCard     = "show_card"
	IntentStatus       = "status"
	IntentClearRoute   = "clear_route"
	IntentAlert        = "alert"
)

// MapRequest asks the map collaborator to compute a route from the user's
// location or to open a street-level panorama.
type MapRequest struct {
	Type      string    `json:"type"`
	CountryID string    `json:"country_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Map request types.
const (
	MapRequestRoute    = "compute_route"
	MapRequestPanorama = "open_panorama"
)

// MapResult reports the outcome of a map collaborator request. The core only
// surfaces failures to the user, it never retries.
type MapResult struct {
	Type      string    `json:"type"`
	CountryID string    `json:"country_id,omitempty"`
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Map failure reasons.
const (
	ReasonNoRouteAvailable    = "no_route_available"
	ReasonNoPanoramaAvailable = "no_panorama_available"
)

// StateSnapshot is published on every dialog state transition so the view can
// render the mic button and status line.
type StateSnapshot struct {
	State      string    `json:"state"`
	Status     string    `json:"status"`
	Transcript string    `json:"transcript,omitempty"`
	CountryID  string    `json:"country_id,omitempty"`
	Epoch      uint64    `json:"epoch"`
	Timestamp  time.Time `json:"timestamp"`
}

// PermissionRequest asks the host agent for a capability grant.
type PermissionRequest struct {
	RequestID  string    `json:"request_id"`
	Capability string    `json:"capability"`
	Timestamp  time.Time `json:"timestamp"`
}

// PermissionGrant is the host agent's answer to a PermissionRequest.
type PermissionGrant struct {
	RequestID  string    `json:"request_id"`
	Capability string    `json:"capability"`
	Granted    bool      `json:"granted"`
	Timestamp  time.Time `json:"timestamp"`
}

// PermissionState is the registry's periodic snapshot of every known grant.
type PermissionState struct {
	Granted   map[string]bool `json:"granted"`
	Degraded  bool            `json:"degraded"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus subjects.
const (
	SubjectUIEventPrefix   = "ui.event"
	SubjectIntentPrefix    = "ui.intent"
	SubjectMapRequest      = "map.request"
	SubjectMapResult       = "map.result"
	SubjectDialogState     = "dialog.state"
	SubjectPermissionReq   = "host.permission.request"
	SubjectPermissionGrant = "host.permission.grant"
	SubjectPermissionState = "host.permission.state"
)
