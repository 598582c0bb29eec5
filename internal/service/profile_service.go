package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/storage"
)

// ProfileService keeps per-user planning context (city, weather) in the
// same substrate as the events.
type ProfileService struct {
	kv       storage.KV
	defaults domain.Profile
	now      func() time.Time
}

// NewProfileService creates a profile service; defaults fill unset fields
func NewProfileService(kv storage.KV, defaults domain.Profile) *ProfileService {
	return &ProfileService{kv: kv, defaults: defaults, now: time.Now}
}

// Get returns the stored profile merged over the defaults
func (s *ProfileService) Get(ctx context.Context, userID string) (domain.Profile, error) {
	p, _, err := s.load(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	return s.withDefaults(p, userID), nil
}

// SetCity stores the user's city
func (s *ProfileService) SetCity(ctx context.Context, userID, city string) (domain.Profile, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return domain.Profile{}, fmt.Errorf("%w: city is required", domain.ErrValidation)
	}
	return s.update(ctx, userID, func(p *domain.Profile) { p.City = city })
}

// SetWeather stores the last known weather for the user's city
func (s *ProfileService) SetWeather(ctx context.Context, userID string, w domain.Weather) (domain.Profile, error) {
	if strings.TrimSpace(w.Condition) == "" {
		return domain.Profile{}, fmt.Errorf("%w: weather condition is required", domain.ErrValidation)
	}
	return s.update(ctx, userID, func(p *domain.Profile) { p.Weather = w })
}

// Register records the chat identity of a user
func (s *ProfileService) Register(ctx context.Context, userID string, telegramID int64, name string, role domain.UserRole) (domain.Profile, error) {
	return s.update(ctx, userID, func(p *domain.Profile) {
		p.TelegramID = telegramID
		p.Name = name
		p.Role = role
	})
}

func (s *ProfileService) update(ctx context.Context, userID string, fn func(*domain.Profile)) (domain.Profile, error) {
	key := storage.ProfileKey(userID)
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		p, version, err := s.load(ctx, userID)
		if err != nil {
			return domain.Profile{}, err
		}
		p.UserID = domain.NewScope(userID).UserID
		fn(&p)
		p.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(p)
		if err != nil {
			return domain.Profile{}, fmt.Errorf("%w: encode profile: %v", domain.ErrStorage, err)
		}
		_, err = s.kv.Put(ctx, key, data, version)
		if err == nil {
			return s.withDefaults(p, userID), nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return domain.Profile{}, fmt.Errorf("%w: save profile: %v", domain.ErrStorage, err)
		}
	}
	return domain.Profile{}, fmt.Errorf("%w: save profile: too many concurrent writes", domain.ErrStorage)
}

func (s *ProfileService) load(ctx context.Context, userID string) (domain.Profile, int64, error) {
	data, version, err := s.kv.Get(ctx, storage.ProfileKey(userID))
	if err != nil {
		return domain.Profile{}, 0, fmt.Errorf("%w: load profile: %v", domain.ErrStorage, err)
	}
	var p domain.Profile
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return domain.Profile{}, 0, fmt.Errorf("%w: decode profile: %v", domain.ErrStorage, err)
		}
	}
	return p, version, nil
}

func (s *ProfileService) withDefaults(p domain.Profile, userID string) domain.Profile {
	if p.UserID == "" {
		p.UserID = domain.NewScope(userID).UserID
	}
	if p.City == "" {
		p.City = s.defaults.City
	}
	if p.Weather.Condition == "" {
		p.Weather = s.defaults.Weather
	}
	return p
}
