// Package presence tracks which users are joined to which document.
package presence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zlnvch/layerlink/models"
)

var (
	ErrDocumentFull = errors.New("document member limit reached")
	ErrNotMember    = errors.New("user is not a member of the document")
)

// Notifier receives exactly one call per membership change. It is invoked
// while the document is locked, so notifications for one document are
// serialized in the order the changes happened.
type Notifier interface {
	UserJoined(documentId string, user models.User)
	UserLeft(documentId string, userId string)
}

type documentSession struct {
	mu      sync.Mutex
	members map[string]*models.User
	order   []string
	// closed is set once the session has been evicted; a joiner holding a
	// stale pointer must look the document up again.
	closed bool
}

func (d *documentSession) snapshot(exclude string) []models.User {
	users := make([]models.User, 0, len(d.order))
	for _, id := range d.order {
		if id == exclude {
			continue
		}
		users = append(users, *d.members[id])
	}
	return users
}

func (d *documentSession) remove(userId string) {
	delete(d.members, userId)
	for i, id := range d.order {
		if id == userId {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Registry maps documents to their joined users. The registry lock only
// guards the maps; membership changes take the per-document lock. Lock order
// is document then registry.
type Registry struct {
	mu         sync.Mutex
	documents  map[string]*documentSession
	userDoc    map[string]string
	notifier   Notifier
	maxMembers int
}

// NewRegistry creates a registry. maxMembers <= 0 means no member limit.
func NewRegistry(notifier Notifier, maxMembers int) *Registry {
	return &Registry{
		documents:  make(map[string]*documentSession),
		userDoc:    make(map[string]string),
		notifier:   notifier,
		maxMembers: maxMembers,
	}
}

// SetNotifier replaces the notifier. It must be called before the registry
// is shared.
func (r *Registry) SetNotifier(notifier Notifier) {
	r.notifier = notifier
}

func (r *Registry) acquire(documentId string) *documentSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[documentId]
	if !ok {
		doc = &documentSession{members: make(map[string]*models.User)}
		r.documents[documentId] = doc
	}
	return doc
}

// Join adds user to documentId and returns the other members in join order.
// A user joined elsewhere is first removed from that document, and its id is
// returned as prior. Joining the same document again refreshes the user info
// without notifying anyone.
func (r *Registry) Join(documentId string, user models.User) (others []models.User, prior string, err error) {
	prior, err = r.JoinWith(documentId, user, func(members []models.User) {
		others = members
	})
	return others, prior, err
}

// JoinWith is Join with the member snapshot handed to seed while the
// document is still locked, after the join notification. Anything seed sends
// is therefore ordered before the next membership change of the document.
func (r *Registry) JoinWith(documentId string, user models.User, seed func(others []models.User)) (prior string, err error) {
	r.mu.Lock()
	prior = r.userDoc[user.Id]
	r.mu.Unlock()

	if prior == documentId {
		prior = ""
	}
	if prior != "" {
		if err := r.Leave(prior, user.Id); err != nil && !errors.Is(err, ErrNotMember) {
			return "", err
		}
	}

	for {
		doc := r.acquire(documentId)
		doc.mu.Lock()
		if doc.closed {
			doc.mu.Unlock()
			continue
		}

		if existing, ok := doc.members[user.Id]; ok {
			existing.Name = user.Name
			existing.Color = user.Color
			seed(doc.snapshot(user.Id))
			doc.mu.Unlock()
			return prior, nil
		}

		if r.maxMembers > 0 && len(doc.members) >= r.maxMembers {
			doc.mu.Unlock()
			return prior, fmt.Errorf("join %s: %w", documentId, ErrDocumentFull)
		}

		u := user
		doc.members[user.Id] = &u
		doc.order = append(doc.order, user.Id)

		r.mu.Lock()
		r.userDoc[user.Id] = documentId
		r.mu.Unlock()

		if r.notifier != nil {
			r.notifier.UserJoined(documentId, user)
		}
		seed(doc.snapshot(user.Id))
		doc.mu.Unlock()
		return prior, nil
	}
}

// Leave removes userId from documentId and evicts the document when it
// becomes empty.
func (r *Registry) Leave(documentId string, userId string) error {
	r.mu.Lock()
	doc, ok := r.documents[documentId]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("leave %s: %w", documentId, ErrNotMember)
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if doc.closed {
		return fmt.Errorf("leave %s: %w", documentId, ErrNotMember)
	}
	if _, ok := doc.members[userId]; !ok {
		return fmt.Errorf("leave %s: %w", documentId, ErrNotMember)
	}
	doc.remove(userId)

	r.mu.Lock()
	if r.userDoc[userId] == documentId {
		delete(r.userDoc, userId)
	}
	if len(doc.members) == 0 {
		doc.closed = true
		delete(r.documents, documentId)
	}
	r.mu.Unlock()

	if r.notifier != nil {
		r.notifier.UserLeft(documentId, userId)
	}
	return nil
}

// UpdateCursor stores the latest cursor position of a member in place.
func (r *Registry) UpdateCursor(documentId string, userId string, position models.Point) error {
	r.mu.Lock()
	doc, ok := r.documents[documentId]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("cursor %s: %w", documentId, ErrNotMember)
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	member, ok := doc.members[userId]
	if !ok {
		return fmt.Errorf("cursor %s: %w", documentId, ErrNotMember)
	}
	member.Cursor = position
	return nil
}

// Members returns the users joined to documentId in join order.
func (r *Registry) Members(documentId string) []models.User {
	r.mu.Lock()
	doc, ok := r.documents[documentId]
	r.mu.Unlock()
	if !ok {
		return []models.User{}
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.snapshot("")
}

// DocumentOf returns the document userId is joined to, if any.
func (r *Registry) DocumentOf(userId string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	documentId, ok := r.userDoc[userId]
	return documentId, ok
}

// Documents returns the number of documents with at least one member.
func (r *Registry) Documents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.documents)
}
