package history

import "time"

// OnlineTransition records a stream going from not-online to online
type OnlineTransition struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	URL       string    `gorm:"not null;index" json:"url"`
	Qualities string    `json:"qualities"` // comma separated
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// ProbeRecord is the outcome of one probe run
type ProbeRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	URL        string    `gorm:"not null;index" json:"url"`
	Online     bool      `json:"online"`
	Qualities  string    `json:"qualities"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// PlaybackSession tracks one player process from launch to exit
type PlaybackSession struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	HandleID   string     `gorm:"uniqueIndex;not null" json:"handle_id"`
	URL        string     `gorm:"not null" json:"url"`
	Quality    string     `json:"quality"`
	Command    string     `json:"command"`
	StartedAt  time.Time  `gorm:"index" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
}
