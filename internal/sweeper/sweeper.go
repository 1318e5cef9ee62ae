package sweeper

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/inkroom/internal/db"
	"github.com/manpreetbhatti/inkroom/internal/logging"
)

const pageSize = 1000

type Config struct {
	Interval time.Duration
	MaxIdle  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		MaxIdle:  24 * time.Hour,
	}
}

// Directory is the registry the sweeper expires rooms from.
type Directory interface {
	ListRooms(limit, offset int) ([]db.Room, error)
	DeleteRoom(id string) error
}

// Presence reports how many participants are connected to a room.
type Presence interface {
	RoomMembers(roomID string) int
}

// Service periodically deletes registered rooms that have been idle longer
// than MaxIdle and have nobody connected.
type Service struct {
	directory Directory
	presence  Presence
	config    Config
	log       zerolog.Logger
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(directory Directory, presence Presence, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Service{
		directory: directory,
		presence:  presence,
		config:    config,
		log:       logging.L().With().Str("component", "sweeper").Logger(),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info().
		Dur("interval", s.config.Interval).
		Dur("max_idle", s.config.MaxIdle).
		Msg("Sweeper started")
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	s.log.Info().Msg("Sweeper stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.Sweep()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass and returns the number of rooms deleted. A MaxIdle
// of zero or less disables expiry.
func (s *Service) Sweep() int {
	if s.config.MaxIdle <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.config.MaxIdle)
	var expired []string

	for offset := 0; ; offset += pageSize {
		rooms, err := s.directory.ListRooms(pageSize, offset)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to list rooms")
			return 0
		}
		for _, r := range rooms {
			if r.UpdatedAt.Before(cutoff) && s.presence.RoomMembers(r.ID) == 0 {
				expired = append(expired, r.ID)
			}
		}
		if len(rooms) < pageSize {
			break
		}
	}

	// Deleting while paging would shift the offsets
	deleted := 0
	for _, id := range expired {
		if err := s.directory.DeleteRoom(id); err != nil {
			s.log.Error().Err(err).Str(logging.FieldRoomID, id).Msg("Failed to delete idle room")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("Expired idle rooms")
	}
	return deleted
}
