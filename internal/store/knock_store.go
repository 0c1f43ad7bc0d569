package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/pkg/file"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultBoundsLimit    = 500
	DefaultCanvasserLimit = 100
)

var (
	ErrKnockNotFound  = errors.New("knock not found")
	ErrInvalidOutcome = errors.New("invalid knock outcome")
)

// KnockSubscriber is called synchronously on the mutating goroutine and must not block.
type KnockSubscriber func(models.KnockEvent)

// KnockRepository is the persistence surface the knock flow depends on.
type KnockRepository interface {
	Create(k models.NewKnock) (models.Knock, error)
	Get(id string) (models.Knock, error)
	Update(id string, upd models.KnockUpdate) (models.Knock, error)
	Delete(id string) error
	InBounds(b models.Bounds, limit int) []models.Knock
	ByCanvasser(canvasserID string, limit int) []models.Knock
	Between(start, end time.Time) []models.Knock
	Stats(start, end time.Time) models.KnockStats
	Subscribe(fn KnockSubscriber) (unsubscribe func())
}

// KnockStore keeps knocks in memory and snapshots them to a JSON file.
type KnockStore struct {
	knocks  cmap.ConcurrentMap[string, models.Knock]
	// writeMu orders Update against Delete so a read-modify-write never
	// resurrects a removed knock. Reads go straight to the map.
	writeMu sync.Mutex
	fileOps file.FileOperations
	path    string
	logger  zerolog.Logger
	now     func() time.Time

	subMu  sync.RWMutex
	subs   map[int]KnockSubscriber
	nextID int
}

// NewKnockStore creates an empty store. An empty path disables Save and Load.
func NewKnockStore(path string, fileOps file.FileOperations, logger zerolog.Logger) *KnockStore {
	return &KnockStore{
		knocks:  cmap.New[models.Knock](),
		fileOps: fileOps,
		path:    path,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		subs:    make(map[int]KnockSubscriber),
	}
}

// Create stores a new knock with a generated ID.
func (s *KnockStore) Create(k models.NewKnock) (models.Knock, error) {
	if !k.Outcome.Valid() {
		return models.Knock{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, k.Outcome)
	}
	now := s.now()
	knock := models.Knock{
		ID:            uuid.NewString(),
		Lat:           k.Lat,
		Lng:           k.Lng,
		Accuracy:      k.Accuracy,
		Address:       k.Address,
		Outcome:       k.Outcome,
		Notes:         k.Notes,
		CanvasserID:   k.CanvasserID,
		CanvasserName: k.CanvasserName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.knocks.Set(knock.ID, knock)
	s.publish(models.KnockEvent{Type: models.KnockInserted, Knock: knock, At: now})
	return knock, nil
}

// Get returns the knock with the given ID.
func (s *KnockStore) Get(id string) (models.Knock, error) {
	k, ok := s.knocks.Get(id)
	if !ok {
		return models.Knock{}, fmt.Errorf("%w: %s", ErrKnockNotFound, id)
	}
	return k, nil
}

// Update applies the non-nil fields of upd.
func (s *KnockStore) Update(id string, upd models.KnockUpdate) (models.Knock, error) {
	if upd.Outcome != nil && !upd.Outcome.Valid() {
		return models.Knock{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, *upd.Outcome)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, ok := s.knocks.Get(id)
	if !ok {
		return models.Knock{}, fmt.Errorf("%w: %s", ErrKnockNotFound, id)
	}
	now := s.now()
	if upd.Outcome != nil {
		current.Outcome = *upd.Outcome
	}
	if upd.Notes != nil {
		current.Notes = *upd.Notes
	}
	if upd.Address != nil {
		current.Address = *upd.Address
	}
	current.UpdatedAt = now
	s.knocks.Set(id, current)

	s.publish(models.KnockEvent{Type: models.KnockUpdated, Knock: current, At: now})
	return current, nil
}

// Delete removes a knock.
func (s *KnockStore) Delete(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	k, ok := s.knocks.Pop(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrKnockNotFound, id)
	}
	s.publish(models.KnockEvent{Type: models.KnockDeleted, Knock: k, At: s.now()})
	return nil
}

// InBounds returns knocks inside b, newest first.
func (s *KnockStore) InBounds(b models.Bounds, limit int) []models.Knock {
	if limit <= 0 {
		limit = DefaultBoundsLimit
	}
	return s.query(func(k models.Knock) bool { return b.Contains(k.Lat, k.Lng) }, limit)
}

// ByCanvasser returns one canvasser's knocks, newest first.
func (s *KnockStore) ByCanvasser(canvasserID string, limit int) []models.Knock {
	if limit <= 0 {
		limit = DefaultCanvasserLimit
	}
	return s.query(func(k models.Knock) bool { return k.CanvasserID == canvasserID }, limit)
}

// Between returns knocks created in [start, end), newest first.
func (s *KnockStore) Between(start, end time.Time) []models.Knock {
	return s.query(func(k models.Knock) bool { return inRange(k.CreatedAt, start, end) }, 0)
}

// Stats counts outcomes for knocks created in [start, end).
func (s *KnockStore) Stats(start, end time.Time) models.KnockStats {
	var stats models.KnockStats
	for _, k := range s.knocks.Items() {
		if inRange(k.CreatedAt, start, end) {
			stats.Add(k.Outcome)
		}
	}
	return stats
}

// Len returns the number of stored knocks.
func (s *KnockStore) Len() int {
	return s.knocks.Count()
}

// Subscribe registers fn for every subsequent change.
func (s *KnockStore) Subscribe(fn KnockSubscriber) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Save writes every knock to the snapshot file.
func (s *KnockStore) Save() error {
	if s.path == "" {
		return nil
	}
	knocks := s.query(func(models.Knock) bool { return true }, 0)
	if err := s.fileOps.WriteJsonFile(s.path, knocks); err != nil {
		return fmt.Errorf("failed to save knocks: %w", err)
	}
	s.logger.Info().Int("count", len(knocks)).Str("path", s.path).Msg("Knock snapshot saved")
	return nil
}

// Load replaces the store contents with the snapshot file. A missing file is not an error.
func (s *KnockStore) Load() error {
	if s.path == "" {
		return nil
	}
	var knocks []models.Knock
	if err := s.fileOps.ReadJsonFile(s.path, &knocks); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load knocks: %w", err)
	}
	s.knocks.Clear()
	for _, k := range knocks {
		if k.ID == "" {
			continue
		}
		s.knocks.Set(k.ID, k)
	}
	s.logger.Info().Int("count", s.knocks.Count()).Str("path", s.path).Msg("Knock snapshot loaded")
	return nil
}

func (s *KnockStore) query(match func(models.Knock) bool, limit int) []models.Knock {
	var out []models.Knock
	for _, k := range s.knocks.Items() {
		if match(k) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *KnockStore) publish(ev models.KnockEvent) {
	s.subMu.RLock()
	subs := make([]KnockSubscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
