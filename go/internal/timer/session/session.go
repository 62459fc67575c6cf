// Package session creates and looks up session documents.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/roomid"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

// Store is what bootstrap needs.
type Store interface {
	store.SessionReader
	store.SessionCreator
}

// DefaultPresets are the talk lengths offered when no presets are configured.
func DefaultPresets() []models.Preset {
	return []models.Preset{
		{ID: "5min", Label: "5 minutes", LowerSec: 180, MidSec: 240, UpperSec: 300},
		{ID: "10min", Label: "10 minutes", LowerSec: 420, MidSec: 540, UpperSec: 600},
		{ID: "15min", Label: "15 minutes", LowerSec: 600, MidSec: 780, UpperSec: 900},
	}
}

// DefaultConfig is the config new sessions start with.
func DefaultConfig() models.SessionConfig {
	return models.SessionConfig{
		Presets:      DefaultPresets(),
		ShowTimer:    true,
		OvertimeMode: models.OvertimeModeNone,
	}
}

// Ensure returns the session id, creating it idle with cfg when absent. A
// concurrent creation by another process is not an error.
func Ensure(ctx context.Context, st Store, id string, cfg models.SessionConfig) (*models.Session, error) {
	s, err := st.GetSession(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	err = st.CreateSession(ctx, id, models.NewSession(id, cfg))
	if err != nil && !errors.Is(err, store.ErrSessionExists) {
		return nil, err
	}
	if err == nil {
		log.Info().Str("session_id", id).Int("presets", len(cfg.Presets)).Msg("created session")
	}
	return st.GetSession(ctx, id)
}

// Create makes a new session under a fresh room id, retrying on collisions.
func Create(ctx context.Context, st store.SessionCreator, cfg models.SessionConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("session config: %w", err)
	}
	const attempts = 5
	for i := 0; i < attempts; i++ {
		id, err := roomid.New()
		if err != nil {
			return "", err
		}
		err = st.CreateSession(ctx, id, models.NewSession(id, cfg))
		if errors.Is(err, store.ErrSessionExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		log.Info().Str("session_id", id).Msg("created session")
		return id, nil
	}
	return "", fmt.Errorf("no free room id after %d attempts", attempts)
}
