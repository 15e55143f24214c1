package store

import (
	"time"

	"github.com/roach88/floodsync/internal/ir"
)

// SeedSOS returns the demonstration SOS records, timestamped relative to now.
func SeedSOS(now time.Time) []ir.SOSRequest {
	ms := now.UnixMilli()
	return []ir.SOSRequest{
		{
			ID:        "seed-1",
			Name:      "Ahmad Razak",
			Phone:     "012-3456789",
			Landmark:  "Near the big mosque, water level rising",
			Status:    ir.StatusActive,
			Location:  &ir.GeoLocation{Lat: 3.1412, Lng: 101.6865},
			Timestamp: ms - time.Hour.Milliseconds(),
			Messages:  []ir.ChatMessage{},
		},
		{
			ID:                 "seed-2",
			Name:               "Somsak Boon",
			Phone:              "081-2345678",
			Landmark:           "Red roof house, stuck on 2nd floor",
			Status:             ir.StatusActive,
			Location:           &ir.GeoLocation{Lat: 3.1450, Lng: 101.6900},
			Timestamp:          ms - (30 * time.Minute).Milliseconds(),
			IsMedicalEmergency: true,
			Messages:           []ir.ChatMessage{},
		},
	}
}

// SeedRescuers returns the demonstration roster, including the sincere pool.
func SeedRescuers() []ir.Rescuer {
	return []ir.Rescuer{
		{ID: ir.SincereTeamID, Name: ir.SincereTeamName, Phone: "-", RescuesCount: 42},
		{ID: "117", Username: "chief117", Name: "Master Chief", Phone: "011-117117", RescuesCount: 15},
		{ID: "204", Username: "rescue_john", Name: "John Doe", Phone: "011-1111111", RescuesCount: 8},
	}
}
