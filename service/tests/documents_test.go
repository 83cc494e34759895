package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/presence"
)

func TestJoinDocument_SeedsAndNotifies(t *testing.T) {
	svc, _, mockCache, _ := setupService(t)
	ctx := context.Background()
	expectEmptyComments(mockCache, "d1")

	u1 := newConnection("u1")
	require.NoError(t, svc.JoinDocument(ctx, u1, "", "d1", u1.user))
	assert.Equal(t, models.CurrentUsers{DocumentId: "d1", Users: []models.User{}}, u1.next(t))
	assert.Equal(t, models.CurrentComments{DocumentId: "d1", Comments: []models.Comment{}}, u1.next(t))

	u2 := newConnection("u2")
	require.NoError(t, svc.JoinDocument(ctx, u2, "", "d1", u2.user))

	assert.Equal(t, models.UserJoined{DocumentId: "d1", User: u2.user}, u1.next(t))
	assert.Equal(t, models.CurrentUsers{DocumentId: "d1", Users: []models.User{u1.user}}, u2.next(t))
	assert.IsType(t, models.CurrentComments{}, u2.next(t))

	assert.Len(t, svc.DocumentUsers("d1"), 2)
}

func TestLeaveDocument_ExactlyOneUserLeft(t *testing.T) {
	svc, _, mockCache, _ := setupService(t)
	ctx := context.Background()
	expectEmptyComments(mockCache, "d1")

	u1, u2 := newConnection("u1"), newConnection("u2")
	require.NoError(t, svc.JoinDocument(ctx, u1, "", "d1", u1.user))
	require.NoError(t, svc.JoinDocument(ctx, u2, "", "d1", u2.user))
	u1.next(t) // current-users
	u1.next(t) // current-comments
	u1.next(t) // user-joined u2

	require.NoError(t, svc.LeaveDocument(ctx, u2, "d1"))
	require.NoError(t, svc.LeaveDocument(ctx, u2, "d1"))

	assert.Equal(t, models.UserLeft{DocumentId: "d1", UserId: "u2"}, u1.next(t))
	u1.expectNothing(t)
	assert.Len(t, svc.DocumentUsers("d1"), 1)
}

func TestJoinDocument_SupersedesSameUser(t *testing.T) {
	svc, _, mockCache, _ := setupService(t)
	ctx := context.Background()
	expectEmptyComments(mockCache, "d1")

	watcher := newConnection("w")
	require.NoError(t, svc.JoinDocument(ctx, watcher, "", "d1", watcher.user))
	watcher.next(t)
	watcher.next(t)

	first, second := newConnection("u1"), newConnection("u1")
	require.NoError(t, svc.JoinDocument(ctx, first, "", "d1", first.user))
	require.NoError(t, svc.JoinDocument(ctx, second, "", "d1", second.user))
	assert.True(t, first.closed.Load())

	// The superseded connection tears down without a user-left.
	require.NoError(t, svc.LeaveDocument(ctx, first, "d1"))
	assert.Equal(t, models.UserJoined{DocumentId: "d1", User: first.user}, watcher.next(t))
	watcher.expectNothing(t)
	assert.Len(t, svc.DocumentUsers("d1"), 2)
}

func TestJoinDocument_MovesBetweenDocuments(t *testing.T) {
	svc, _, mockCache, _ := setupService(t)
	ctx := context.Background()
	expectEmptyComments(mockCache, "d1")
	expectEmptyComments(mockCache, "d2")

	stay, mover := newConnection("stay"), newConnection("mover")
	require.NoError(t, svc.JoinDocument(ctx, stay, "", "d1", stay.user))
	require.NoError(t, svc.JoinDocument(ctx, mover, "", "d1", mover.user))
	stay.next(t)
	stay.next(t)
	stay.next(t)

	require.NoError(t, svc.JoinDocument(ctx, mover, "d1", "d2", mover.user))
	assert.Equal(t, models.UserLeft{DocumentId: "d1", UserId: "mover"}, stay.next(t))
	assert.Len(t, svc.DocumentUsers("d1"), 1)
	assert.Len(t, svc.DocumentUsers("d2"), 1)
}

func TestJoinDocument_Full(t *testing.T) {
	svc, _, mockCache, _ := setupService(t)
	ctx := context.Background()
	expectEmptyComments(mockCache, "d1")

	for _, id := range []string{"a", "b", "c"} {
		c := newConnection(id)
		require.NoError(t, svc.JoinDocument(ctx, c, "", "d1", c.user))
	}

	late := newConnection("late")
	err := svc.JoinDocument(ctx, late, "", "d1", late.user)
	assert.ErrorIs(t, err, presence.ErrDocumentFull)
	// The rejected connection is not left subscribed.
	assert.False(t, svc.Relay.Unsubscribe("d1", late))
}

func TestMoveCursor(t *testing.T) {
	svc, _, mockCache, _ := setupService(t)
	ctx := context.Background()
	expectEmptyComments(mockCache, "d1")

	u1, u2 := newConnection("u1"), newConnection("u2")
	require.NoError(t, svc.JoinDocument(ctx, u1, "", "d1", u1.user))
	require.NoError(t, svc.JoinDocument(ctx, u2, "", "d1", u2.user))
	u1.next(t)
	u1.next(t)
	u1.next(t)

	position := models.Point{X: 10, Y: 20}
	require.NoError(t, svc.MoveCursor(ctx, "u2", "d1", position))
	assert.Equal(t, models.CursorMoved{DocumentId: "d1", UserId: "u2", Position: position}, u1.next(t))
	assert.Equal(t, position, svc.DocumentUsers("d1")[1].Cursor)

	assert.ErrorIs(t, svc.MoveCursor(ctx, "u2", "other", position), presence.ErrNotMember)
}

func TestUpdateLayer_RelaysInOrder(t *testing.T) {
	svc, _, mockCache, _ := setupService(t)
	ctx := context.Background()
	expectEmptyComments(mockCache, "d1")

	u1, u2 := newConnection("u1"), newConnection("u2")
	require.NoError(t, svc.JoinDocument(ctx, u1, "", "d1", u1.user))
	require.NoError(t, svc.JoinDocument(ctx, u2, "", "d1", u2.user))
	for i := 0; i < 2; i++ {
		u2.next(t)
	}

	a := models.Layer{Id: "L1", Opacity: 50, Type: models.LayerRaster}
	b := models.Layer{Id: "L1", Opacity: 70, Type: models.LayerRaster}
	require.NoError(t, svc.UpdateLayer(ctx, "u1", "d1", a))
	require.NoError(t, svc.UpdateLayer(ctx, "u1", "d1", b))

	assert.Equal(t, a, u2.next(t).(models.LayerUpdated).Layer)
	assert.Equal(t, b, u2.next(t).(models.LayerUpdated).Layer)
	for i := 0; i < 3; i++ {
		u1.next(t)
	}
	u1.expectNothing(t)

	assert.ErrorIs(t, svc.UpdateLayer(ctx, "stranger", "d1", a), presence.ErrNotMember)
}
