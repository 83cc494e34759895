package canvas

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/history"
	"github.com/zlnvch/layerlink/models"
)

var (
	ErrLastLayer      = errors.New("cannot delete the last remaining layer")
	ErrLayerNotFound  = errors.New("layer not found")
	ErrStaleApply     = errors.New("remote update references an unknown layer")
	ErrInvalidOpacity = errors.New("opacity out of range")
)

// LayerEmitter receives local payload changes that must be sent to the
// other participants.
type LayerEmitter interface {
	EmitLayerUpdate(layer models.Layer) error
}

// Store owns the live layer sequence of one open document.
//
// Local mutations push a history snapshot (except lock toggles). Remote
// applies never do, so undo cannot rewrite another user's edit.
type Store struct {
	mu              sync.Mutex
	owner           string
	layers          []models.Layer
	activeId        string
	history         *history.Stack[[]models.Layer]
	historyCapacity int
	emitter         LayerEmitter
	newId           func() string
}

type StoreOption func(*Store)

// WithEmitter sets the destination of local payload updates.
func WithEmitter(emitter LayerEmitter) StoreOption {
	return func(s *Store) { s.emitter = emitter }
}

// WithHistoryCapacity bounds the undo log. The default is unbounded.
func WithHistoryCapacity(capacity int) StoreOption {
	return func(s *Store) { s.historyCapacity = capacity }
}

// WithIdGenerator overrides layer id generation.
func WithIdGenerator(newId func() string) StoreOption {
	return func(s *Store) { s.newId = newId }
}

// NewStore creates a store seeded with initial. An empty initial sequence is
// replaced by a single background layer owned by owner.
func NewStore(owner string, initial []models.Layer, opts ...StoreOption) *Store {
	s := &Store{
		owner:  owner,
		layers: models.CloneLayers(initial),
		newId:  newLayerId,
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.layers) == 0 {
		s.layers = []models.Layer{defaultLayer(s.newId(), "Background", owner)}
	}
	s.activeId = s.layers[0].Id
	s.history = history.NewBounded(s.layers, models.CloneLayers, s.historyCapacity)
	return s
}

// SetEmitter replaces the destination of local payload updates.
func (s *Store) SetEmitter(emitter LayerEmitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitter = emitter
}

func newLayerId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}

func defaultLayer(id string, name string, owner string) models.Layer {
	return models.Layer{
		Id:      id,
		Name:    name,
		Visible: true,
		Locked:  false,
		Opacity: models.MaxOpacity,
		Type:    models.LayerRaster,
		Owner:   owner,
	}
}

func (s *Store) indexOf(id string) int {
	for i, l := range s.layers {
		if l.Id == id {
			return i
		}
	}
	return -1
}

func (s *Store) pushHistory() {
	s.history.Push(s.layers)
}

// Add appends a new default layer and makes it active.
func (s *Store) Add() models.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()

	layer := defaultLayer(s.newId(), fmt.Sprintf("Layer %d", len(s.layers)+1), s.owner)
	s.layers = append(s.layers, layer)
	s.activeId = layer.Id
	s.pushHistory()
	return layer.Clone()
}

// Remove deletes a layer in place. Removing the active layer moves the
// active pointer to the new topmost layer.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("remove %s: %w", id, ErrLayerNotFound)
	}
	if len(s.layers) <= 1 {
		return ErrLastLayer
	}

	s.layers = append(s.layers[:idx], s.layers[idx+1:]...)
	if s.activeId == id {
		s.activeId = s.layers[len(s.layers)-1].Id
	}
	s.pushHistory()
	return nil
}

// SetPayload replaces the layer payload, records a history entry and emits
// the full layer to the other participants. Payloads over
// models.MaxPayloadSize are refused with models.ErrPayloadTooLarge.
func (s *Store) SetPayload(id string, payload string) error {
	if len(payload) > models.MaxPayloadSize {
		return fmt.Errorf("set payload %s: %d bytes: %w", id, len(payload), models.ErrPayloadTooLarge)
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("set payload %s: %w", id, ErrLayerNotFound)
	}
	p := payload
	s.layers[idx].Payload = &p
	s.pushHistory()
	updated := s.layers[idx].Clone()
	emitter := s.emitter
	s.mu.Unlock()

	if emitter == nil {
		return nil
	}
	if err := emitter.EmitLayerUpdate(updated); err != nil {
		// The next local change re-sends the full layer.
		log.Debug().Err(err).Str("layerId", id).Msg("Layer update not emitted")
	}
	return nil
}

// ApplyRemote replaces the matching layer wholesale. Unknown ids are not
// backfilled and report ErrStaleApply.
func (s *Store) ApplyRemote(layer models.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(layer.Id)
	if idx < 0 {
		return fmt.Errorf("apply %s: %w", layer.Id, ErrStaleApply)
	}
	s.layers[idx] = layer.Clone()
	return nil
}

func (s *Store) ToggleVisibility(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("toggle visibility %s: %w", id, ErrLayerNotFound)
	}
	s.layers[idx].Visible = !s.layers[idx].Visible
	s.pushHistory()
	return nil
}

// ToggleLock flips the lock flag. Lock state is not part of the undo log.
func (s *Store) ToggleLock(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("toggle lock %s: %w", id, ErrLayerNotFound)
	}
	s.layers[idx].Locked = !s.layers[idx].Locked
	return nil
}

func (s *Store) SetOpacity(id string, opacity int) error {
	if opacity < models.MinOpacity || opacity > models.MaxOpacity {
		return fmt.Errorf("%w: %d", ErrInvalidOpacity, opacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("set opacity %s: %w", id, ErrLayerNotFound)
	}
	s.layers[idx].Opacity = opacity
	s.pushHistory()
	return nil
}

func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 {
		return fmt.Errorf("set active %s: %w", id, ErrLayerNotFound)
	}
	s.activeId = id
	return nil
}

// Undo installs the previous history snapshot as the live sequence.
func (s *Store) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.history.Undo()
	if !ok {
		return false
	}
	s.install(snapshot)
	return true
}

// Redo installs the next history snapshot as the live sequence.
func (s *Store) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.history.Redo()
	if !ok {
		return false
	}
	s.install(snapshot)
	return true
}

// install replaces the live sequence and keeps activeId pointing at an existing layer.
func (s *Store) install(snapshot []models.Layer) {
	s.layers = snapshot
	if s.indexOf(s.activeId) < 0 {
		s.activeId = s.layers[len(s.layers)-1].Id
	}
}

// Layers returns a copy of the sequence in render order.
func (s *Store) Layers() []models.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneLayers(s.layers)
}

func (s *Store) Layer(id string) (models.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return models.Layer{}, fmt.Errorf("layer %s: %w", id, ErrLayerNotFound)
	}
	return s.layers[idx].Clone(), nil
}

func (s *Store) Active() models.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers[s.indexOf(s.activeId)].Clone()
}

func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanUndo()
}

func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanRedo()
}

func (s *Store) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

func (s *Store) HistoryIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Index()
}
