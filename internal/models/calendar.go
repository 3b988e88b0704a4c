package models

// CalendarEvent is one VEVENT parsed from the public ICS feed.
type CalendarEvent struct {
	Summary  string `json:"summary"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Location string `json:"location,omitempty"`
}

// CalendarFeed is the cached payload served from /calendar/public.
type CalendarFeed struct {
	Items []CalendarEvent `json:"items"`
}
