package ir

import "sort"

// SincereTeamID is the reserved rescuer id credited when a rescue is not
// attributed to a registered rescuer.
const SincereTeamID = "000"

// SincereTeamName is the display name of the sincere pool.
const SincereTeamName = "Sincere Rescue Team"

// Status is the lifecycle state of a SOSRequest.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRescued Status = "RESCUED"
	StatusSafe    Status = "SAFE"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusRescued, StatusSafe:
		return true
	}
	return false
}

// Terminal reports whether no transition out of s is allowed.
func (s Status) Terminal() bool {
	return s == StatusRescued || s == StatusSafe
}

// CanTransition reports whether s may move to next.
// Only ACTIVE -> RESCUED and ACTIVE -> SAFE are allowed.
func (s Status) CanTransition(next Status) bool {
	return s == StatusActive && next.Terminal()
}

// SenderRole identifies who wrote a chat message.
type SenderRole string

const (
	SenderVictim  SenderRole = "victim"
	SenderRescuer SenderRole = "rescuer"
)

// GeoLocation is a GPS fix in signed decimal degrees.
type GeoLocation struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"lat"`
	Lng float64 `json:"lng" yaml:"lng" validate:"lng"`
}

// ChatMessage is one entry of a SOS chat thread.
type ChatMessage struct {
	Sender     SenderRole `json:"sender" yaml:"sender" validate:"required,oneof=victim rescuer"`
	Text       string     `json:"text" yaml:"text" validate:"required,max=2000"`
	Timestamp  int64      `json:"timestamp" yaml:"timestamp"`
	SenderName string     `json:"senderName,omitempty" yaml:"senderName,omitempty" validate:"max=120"`
}

// SOSRequest is an emergency signal.
//
// Location is nil when the signal was sent without a GPS fix. Timestamp is
// wall-clock milliseconds of creation or of the last detail edit.
type SOSRequest struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Phone              string        `json:"phone"`
	Landmark           string        `json:"landmark"`
	Status             Status        `json:"status"`
	Location           *GeoLocation  `json:"location"`
	Timestamp          int64         `json:"timestamp"`
	Message            string        `json:"message,omitempty"`
	RescuerID          string        `json:"rescuerId,omitempty"`
	IsMedicalEmergency bool          `json:"isMedicalEmergency"`
	Messages           []ChatMessage `json:"messages"`
}

// Rescuer is a registered responder or the sincere pool.
type Rescuer struct {
	ID           string `json:"id"`
	Username     string `json:"username,omitempty"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	RescuesCount int    `json:"rescuesCount"`
}

// SincereTeam returns a fresh sincere pool record with a zero count.
func SincereTeam() Rescuer {
	return Rescuer{ID: SincereTeamID, Name: SincereTeamName, Phone: "-"}
}

// FindSOS returns the record with the given id.
func FindSOS(all []SOSRequest, id string) (SOSRequest, bool) {
	for _, s := range all {
		if s.ID == id {
			return s, true
		}
	}
	return SOSRequest{}, false
}

// FindRescuer returns the rescuer with the given id.
func FindRescuer(all []Rescuer, id string) (Rescuer, bool) {
	for _, r := range all {
		if r.ID == id {
			return r, true
		}
	}
	return Rescuer{}, false
}

// ReplaceSOS returns all with rec substituted by id, appending it when absent.
// The input slice is not modified.
func ReplaceSOS(all []SOSRequest, rec SOSRequest) []SOSRequest {
	out := make([]SOSRequest, 0, len(all)+1)
	found := false
	for _, s := range all {
		if s.ID == rec.ID {
			out = append(out, rec)
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		out = append(out, rec)
	}
	return out
}

// ReplaceRescuer returns all with rec substituted by id, appending it when absent.
func ReplaceRescuer(all []Rescuer, rec Rescuer) []Rescuer {
	out := make([]Rescuer, 0, len(all)+1)
	found := false
	for _, r := range all {
		if r.ID == rec.ID {
			out = append(out, rec)
			found = true
			continue
		}
		out = append(out, r)
	}
	if !found {
		out = append(out, rec)
	}
	return out
}

// RemoveSOS returns all without the record with the given id.
func RemoveSOS(all []SOSRequest, id string) []SOSRequest {
	out := make([]SOSRequest, 0, len(all))
	for _, s := range all {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// RemoveRescuer returns all without the rescuer with the given id.
func RemoveRescuer(all []Rescuer, id string) []Rescuer {
	out := make([]Rescuer, 0, len(all))
	for _, r := range all {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// SortLeague orders rescuers by rescue count, highest first.
// Ties are broken by id so the order is stable across devices.
func SortLeague(rescuers []Rescuer) []Rescuer {
	out := make([]Rescuer, len(rescuers))
	copy(out, rescuers)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RescuesCount != out[j].RescuesCount {
			return out[i].RescuesCount > out[j].RescuesCount
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats summarises a SOS collection for the admin dashboard.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Medical int `json:"medical"`
	Rescued int `json:"rescued"`
	Safe    int `json:"safe"`
}

// Summarize counts records by status and medical flag.
func Summarize(all []SOSRequest) Stats {
	st := Stats{Total: len(all)}
	for _, s := range all {
		switch s.Status {
		case StatusActive:
			st.Active++
		case StatusRescued:
			st.Rescued++
		case StatusSafe:
			st.Safe++
		}
		if s.IsMedicalEmergency {
			st.Medical++
		}
	}
	return st
}
