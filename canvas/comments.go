package canvas

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"
	"github.com/zlnvch/layerlink/models"
)

var ErrCommentNotFound = errors.New("comment not found")

type CommentEmitter interface {
	EmitComment(comment models.Comment) error
	EmitResolve(commentId string) error
}

type CommentFilter int

const (
	CommentsAll CommentFilter = iota
	CommentsActive
	CommentsResolved
)

// CommentBoard holds the append-only comment list of a document. The only
// mutation of an existing comment is the one-way resolve transition.
type CommentBoard struct {
	mu       sync.Mutex
	author   string
	comments []models.Comment
	emitter  CommentEmitter
	now      func() time.Time
}

func NewCommentBoard(author string, emitter CommentEmitter) *CommentBoard {
	return &CommentBoard{
		author:  author,
		emitter: emitter,
		now:     time.Now,
	}
}

func (b *CommentBoard) SetEmitter(emitter CommentEmitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitter = emitter
}

func (b *CommentBoard) indexOf(id string) int {
	for i, c := range b.comments {
		if c.Id == id {
			return i
		}
	}
	return -1
}

// Add appends a comment authored by the local user and emits it.
func (b *CommentBoard) Add(x float64, y float64, text string) (models.Comment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.Comment{}, err
	}
	comment := models.Comment{
		Id:        id.String(),
		X:         x,
		Y:         y,
		Text:      text,
		Author:    b.author,
		Timestamp: b.now().UTC(),
	}
	if err := models.ValidateComment(comment); err != nil {
		return models.Comment{}, err
	}

	b.mu.Lock()
	b.comments = append(b.comments, comment)
	emitter := b.emitter
	b.mu.Unlock()

	if emitter != nil {
		if err := emitter.EmitComment(comment); err != nil {
			log.Debug().Err(err).Str("commentId", comment.Id).Msg("Comment not emitted")
		}
	}
	return comment, nil
}

// Resolve marks a comment resolved. Resolving an already resolved comment is
// a no-op and emits nothing.
func (b *CommentBoard) Resolve(id string) error {
	b.mu.Lock()
	idx := b.indexOf(id)
	if idx < 0 {
		b.mu.Unlock()
		return fmt.Errorf("resolve %s: %w", id, ErrCommentNotFound)
	}
	if b.comments[idx].Resolved {
		b.mu.Unlock()
		return nil
	}
	b.comments[idx].Resolved = true
	emitter := b.emitter
	b.mu.Unlock()

	if emitter != nil {
		if err := emitter.EmitResolve(id); err != nil {
			log.Debug().Err(err).Str("commentId", id).Msg("Comment resolve not emitted")
		}
	}
	return nil
}

// ApplyRemote appends a comment received from another participant. Known ids
// are ignored except that a resolved copy resolves the local one.
func (b *CommentBoard) ApplyRemote(comment models.Comment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx := b.indexOf(comment.Id); idx >= 0 {
		if comment.Resolved {
			b.comments[idx].Resolved = true
		}
		return
	}
	b.comments = append(b.comments, comment)
}

func (b *CommentBoard) ApplyRemoteResolve(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("resolve %s: %w", id, ErrCommentNotFound)
	}
	b.comments[idx].Resolved = true
	return nil
}

// Seed merges a snapshot received at join time.
func (b *CommentBoard) Seed(comments []models.Comment) {
	for _, c := range comments {
		b.ApplyRemote(c)
	}
}

func (b *CommentBoard) Comments(filter CommentFilter) []models.Comment {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Comment, 0, len(b.comments))
	for _, c := range b.comments {
		switch filter {
		case CommentsActive:
			if c.Resolved {
				continue
			}
		case CommentsResolved:
			if !c.Resolved {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
