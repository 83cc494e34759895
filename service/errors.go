package service

import (
	"errors"
	"fmt"

	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/presence"
)

var (
	ErrIdentityRequired = errors.New("identity token required")
	ErrInvalidIdentity  = errors.New("invalid identity token")
	ErrDuplicateComment = fmt.Errorf("%w: comment id already exists", models.ErrInvalidEvent)
)

func isNotMember(err error) bool {
	return errors.Is(err, presence.ErrNotMember)
}
