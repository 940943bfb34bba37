package models

import "time"

// Project groups the work booked by one client.
type Project struct {
	ID        int64     `json:"id"`
	ClientID  string    `json:"client_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Brief is a per-service document created after a successful booking.
type Brief struct {
	ID              int64     `json:"id"`
	ProjectID       int64     `json:"project_id"`
	BookedServiceID int64     `json:"booked_service_id"`
	BriefType       string    `json:"brief_type"`
	CreatedAt       time.Time `json:"created_at"`
}
