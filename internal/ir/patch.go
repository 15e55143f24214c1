package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SOSDraft carries the victim-entered fields of a new SOS.
// Identity, status, timestamp and messages are assigned by the engine.
type SOSDraft struct {
	Name               string       `json:"name" yaml:"name" validate:"required,max=120"`
	Phone              string       `json:"phone" yaml:"phone" validate:"required,max=40"`
	Landmark           string       `json:"landmark" yaml:"landmark" validate:"max=500"`
	Location           *GeoLocation `json:"location,omitempty" yaml:"location,omitempty"`
	IsMedicalEmergency bool         `json:"isMedicalEmergency" yaml:"isMedicalEmergency"`
	Message            string       `json:"message,omitempty" yaml:"message,omitempty" validate:"max=2000"`
}

// Normalize trims and NFC-normalises the free text fields.
func (d SOSDraft) Normalize() SOSDraft {
	d.Name = NormalizeText(d.Name)
	d.Phone = NormalizeText(d.Phone)
	d.Landmark = NormalizeText(d.Landmark)
	d.Message = NormalizeText(d.Message)
	return d
}

// SOSPatch is a partial edit of a SOS. Nil fields are left unchanged.
//
// The record id, status, rescuer attribution and chat thread are not
// patchable; they change only through their dedicated operations.
type SOSPatch struct {
	Name               *string      `json:"name,omitempty" yaml:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Phone              *string      `json:"phone,omitempty" yaml:"phone,omitempty" validate:"omitempty,min=1,max=40"`
	Landmark           *string      `json:"landmark,omitempty" yaml:"landmark,omitempty" validate:"omitempty,max=500"`
	Location           *GeoLocation `json:"location,omitempty" yaml:"location,omitempty"`
	IsMedicalEmergency *bool        `json:"isMedicalEmergency,omitempty" yaml:"isMedicalEmergency,omitempty"`
	Message            *string      `json:"message,omitempty" yaml:"message,omitempty" validate:"omitempty,max=2000"`
}

// Empty reports whether the patch changes nothing.
func (p SOSPatch) Empty() bool {
	return p.Name == nil && p.Phone == nil && p.Landmark == nil &&
		p.Location == nil && p.IsMedicalEmergency == nil && p.Message == nil
}

// Normalize returns a copy with the text fields normalised.
func (p SOSPatch) Normalize() SOSPatch {
	p.Name = normalizePtr(p.Name)
	p.Phone = normalizePtr(p.Phone)
	p.Landmark = normalizePtr(p.Landmark)
	p.Message = normalizePtr(p.Message)
	return p
}

// Apply returns rec with the patch applied and its timestamp set to now.
func (p SOSPatch) Apply(rec SOSRequest, now int64) SOSRequest {
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Phone != nil {
		rec.Phone = *p.Phone
	}
	if p.Landmark != nil {
		rec.Landmark = *p.Landmark
	}
	if p.Location != nil {
		loc := *p.Location
		rec.Location = &loc
	}
	if p.IsMedicalEmergency != nil {
		rec.IsMedicalEmergency = *p.IsMedicalEmergency
	}
	if p.Message != nil {
		rec.Message = *p.Message
	}
	rec.Timestamp = now
	return rec
}

// RescuerDraft carries the fields entered at self-registration.
type RescuerDraft struct {
	Username string `json:"username,omitempty" yaml:"username,omitempty" validate:"max=40"`
	Name     string `json:"name" yaml:"name" validate:"required,max=120"`
	Phone    string `json:"phone" yaml:"phone" validate:"required,max=40"`
}

// Normalize trims and NFC-normalises the draft.
func (d RescuerDraft) Normalize() RescuerDraft {
	d.Username = NormalizeText(d.Username)
	d.Name = NormalizeText(d.Name)
	d.Phone = NormalizeText(d.Phone)
	return d
}

// NormalizeText applies NFC normalisation and trims surrounding space.
func NormalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func normalizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := NormalizeText(*s)
	return &v
}

// StringPtr returns a pointer to s. Handy when building patches.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
