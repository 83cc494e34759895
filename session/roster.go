package session

import (
	"sync"

	"github.com/zlnvch/layerlink/models"
)

// Roster is the session's view of the other users in the document, in join
// order.
type Roster struct {
	mu    sync.Mutex
	users map[string]*models.User
	order []string
}

func NewRoster() *Roster {
	return &Roster{users: make(map[string]*models.User)}
}

// Reset replaces the roster with a membership snapshot.
func (r *Roster) Reset(users []models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users = make(map[string]*models.User, len(users))
	r.order = r.order[:0]
	for _, u := range users {
		if _, ok := r.users[u.Id]; ok {
			continue
		}
		user := u
		r.users[u.Id] = &user
		r.order = append(r.order, u.Id)
	}
}

func (r *Roster) Add(user models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.users[user.Id]; ok {
		*existing = user
		return
	}
	u := user
	r.users[user.Id] = &u
	r.order = append(r.order, user.Id)
}

func (r *Roster) Remove(userId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userId]; !ok {
		return
	}
	delete(r.users, userId)
	for i, id := range r.order {
		if id == userId {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// MoveCursor updates a known user's cursor and reports whether the user was
// found.
func (r *Roster) MoveCursor(userId string, position models.Point) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userId]
	if !ok {
		return false
	}
	user.Cursor = position
	return true
}

func (r *Roster) Users() []models.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]models.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, *r.users[id])
	}
	return users
}
