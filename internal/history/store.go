// Package history persists what the client has observed: streams coming
// online, probe results and playback sessions.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mantonx/gstream/internal/stream"
	"gorm.io/gorm"
)

const defaultLimit = 50

// Store is the gorm-backed history repository
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the history tables
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&OnlineTransition{}, &ProbeRecord{}, &PlaybackSession{}); err != nil {
		return fmt.Errorf("failed to migrate history tables: %w", err)
	}
	return nil
}

// RecordNewlyOnline stores one transition per record
func (s *Store) RecordNewlyOnline(ctx context.Context, records stream.Set) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]OnlineTransition, 0, len(records))
	for _, r := range records {
		rows = append(rows, OnlineTransition{
			Name:      r.Name,
			URL:       r.URL,
			Qualities: strings.Join(r.Qualities, ","),
			CreatedAt: now,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to record online transitions: %w", err)
	}
	return nil
}

// RecordProbe stores a probe outcome. probeErr is nil for a successful probe.
func (s *Store) RecordProbe(ctx context.Context, url string, online bool, qualities []string, duration time.Duration, probeErr error) error {
	rec := ProbeRecord{
		URL:        url,
		Online:     online,
		Qualities:  strings.Join(qualities, ","),
		DurationMs: duration.Milliseconds(),
	}
	if probeErr != nil {
		rec.Error = probeErr.Error()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record probe: %w", err)
	}
	return nil
}

// StartPlayback opens a session for a launched player
func (s *Store) StartPlayback(ctx context.Context, handleID, url, quality, command string) error {
	session := PlaybackSession{
		HandleID:  handleID,
		URL:       url,
		Quality:   quality,
		Command:   command,
		StartedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return fmt.Errorf("failed to record playback start: %w", err)
	}
	return nil
}

// FinishPlayback closes the session for handleID
func (s *Store) FinishPlayback(ctx context.Context, handleID string, exitCode int) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&PlaybackSession{}).
		Where("handle_id = ? AND finished_at IS NULL", handleID).
		Updates(map[string]interface{}{"finished_at": now, "exit_code": exitCode})
	if result.Error != nil {
		return fmt.Errorf("failed to record playback exit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no open playback session %s", handleID)
	}
	return nil
}

// RecentTransitions returns the newest transitions first
func (s *Store) RecentTransitions(ctx context.Context, limit int) ([]OnlineTransition, error) {
	var rows []OnlineTransition
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load online transitions: %w", err)
	}
	return rows, nil
}

// RecentProbes returns the newest probe records first
func (s *Store) RecentProbes(ctx context.Context, limit int) ([]ProbeRecord, error) {
	var rows []ProbeRecord
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load probe records: %w", err)
	}
	return rows, nil
}

// RecentPlaybacks returns the newest sessions first
func (s *Store) RecentPlaybacks(ctx context.Context, limit int) ([]PlaybackSession, error) {
	var rows []PlaybackSession
	err := s.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(clampLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load playback sessions: %w", err)
	}
	return rows, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultLimit
	}
	return limit
}
