package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanapbuhay/chat-service/internal/domain"
	"github.com/hanapbuhay/chat-service/internal/store/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	// A second connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, repos domain.Repositories, username string) *domain.User {
	t.Helper()

	u := &domain.User{
		Username:       username,
		HashedPassword: "x",
		DisplayName:    username,
		IsActive:       true,
	}
	require.NoError(t, repos.Users.Create(context.Background(), u))
	return u
}

func sendMessage(t *testing.T, repos domain.Repositories, roomID, senderID int64, content string) *domain.Message {
	t.Helper()

	token := uuid.NewString()
	m := &domain.Message{RoomID: roomID, SenderID: senderID, Content: content, ClientToken: &token}
	require.NoError(t, repos.Messages.Create(context.Background(), m))
	return m
}

func TestRoomPairUniqueness(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")

	room, err := repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Same pair, either order, hits the unique index.
	_, err = repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = repos.Rooms.CreatePrivate(ctx, bob.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Lookup is order-independent and lands on the one room.
	found, err := repos.Rooms.FindPrivate(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, room.ID, found.ID)

	ok, err := repos.Participants.IsParticipant(ctx, room.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureGlobalIdempotent(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	first, err := repos.Rooms.EnsureGlobal(ctx, "Global")
	require.NoError(t, err)
	second, err := repos.Rooms.EnsureGlobal(ctx, "Global")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestListForUserIncludesGlobal(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	carol := createUser(t, repos, "carol")

	global, err := repos.Rooms.EnsureGlobal(ctx, "Global")
	require.NoError(t, err)
	ab, err := repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = repos.Rooms.CreatePrivate(ctx, bob.ID, carol.ID)
	require.NoError(t, err)

	rooms, err := repos.Rooms.ListForUser(ctx, alice.ID)
	require.NoError(t, err)

	ids := make(map[int64]bool)
	for _, r := range rooms {
		ids[r.ID] = true
	}
	assert.Len(t, rooms, 2)
	assert.True(t, ids[global.ID])
	assert.True(t, ids[ab.ID])
}

func TestMessagePagination(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	room, err := repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	const total = 25
	for i := 0; i < total; i++ {
		sendMessage(t, repos, room.ID, alice.ID, fmt.Sprintf("msg %d", i))
	}

	// Walk backwards page by page; the concatenation must reconstruct the
	// full history with no gaps or duplicates.
	var collected []*domain.Message
	var cursor *domain.MessageCursor
	for {
		page, err := repos.Messages.ListBefore(ctx, room.ID, 10, cursor)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		last := page[len(page)-1]
		cursor = &domain.MessageCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	require.Len(t, collected, total)
	seen := make(map[int64]bool)
	for i, m := range collected {
		assert.False(t, seen[m.ID], "duplicate message %d", m.ID)
		seen[m.ID] = true
		if i > 0 {
			prev := collected[i-1]
			newerFirst := m.CreatedAt.Before(prev.CreatedAt) ||
				(m.CreatedAt.Equal(prev.CreatedAt) && m.ID < prev.ID)
			assert.True(t, newerFirst, "order broken at index %d", i)
		}
	}
}

func TestClientTokenConflict(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	room, err := repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	token := "retry-token"
	first := &domain.Message{RoomID: room.ID, SenderID: alice.ID, Content: "hello", ClientToken: &token}
	require.NoError(t, repos.Messages.Create(ctx, first))

	dup := &domain.Message{RoomID: room.ID, SenderID: alice.ID, Content: "hello", ClientToken: &token}
	err = repos.Messages.Create(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := repos.Messages.GetByClientToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	room, err := repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	m1 := sendMessage(t, repos, room.ID, alice.ID, "one")
	m2 := sendMessage(t, repos, room.ID, alice.ID, "two")
	sendMessage(t, repos, room.ID, bob.ID, "reply")

	// Bob has two unread from alice; his own message does not count.
	n, err := repos.Messages.UnreadCount(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, repos.Messages.MarkRead(ctx, bob.ID, []int64{m1.ID}))
	n, err = repos.Messages.UnreadCount(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Marking again is a no-op, not an error.
	require.NoError(t, repos.Messages.MarkRead(ctx, bob.ID, []int64{m1.ID, m2.ID}))
	n, err = repos.Messages.UnreadCount(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	reads, err := repos.Messages.ListReads(ctx, []int64{m1.ID, m2.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{bob.ID}, reads[m1.ID])
	assert.Equal(t, []int64{bob.ID}, reads[m2.ID])
}

func TestCountInRoom(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	carol := createUser(t, repos, "carol")
	ab, err := repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	ac, err := repos.Rooms.CreatePrivate(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	inRoom := sendMessage(t, repos, ab.ID, alice.ID, "here")
	elsewhere := sendMessage(t, repos, ac.ID, alice.ID, "there")

	n, err := repos.Messages.CountInRoom(ctx, ab.ID, []int64{inRoom.ID, elsewhere.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestContactsWithActivity(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	carol := createUser(t, repos, "carol")

	abRoom, err := repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	acRoom, err := repos.Rooms.CreatePrivate(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	sendMessage(t, repos, abRoom.ID, bob.ID, "hi alice")
	latest := sendMessage(t, repos, acRoom.ID, carol.ID, "hello there")

	contacts, err := repos.Contacts.ListWithActivity(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)

	// Carol messaged last, so she sorts first.
	assert.Equal(t, carol.ID, contacts[0].User.ID)
	require.NotNil(t, contacts[0].LastMessage)
	assert.Equal(t, latest.ID, contacts[0].LastMessage.ID)
	assert.Equal(t, 1, contacts[0].UnreadCount)
	assert.Equal(t, bob.ID, contacts[1].User.ID)
	assert.Equal(t, 1, contacts[1].UnreadCount)

	// Reading carol's message zeroes her counter and only hers.
	require.NoError(t, repos.Messages.MarkRead(ctx, alice.ID, []int64{latest.ID}))
	contacts, err = repos.Contacts.ListWithActivity(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, contacts[0].UnreadCount)
	assert.Equal(t, 1, contacts[1].UnreadCount)
}

func TestContactWithoutMessagesSortsLast(t *testing.T) {
	ctx := context.Background()
	repos := sqlite.NewRepositories(openTestDB(t))

	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	carol := createUser(t, repos, "carol")

	_, err := repos.Rooms.CreatePrivate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	acRoom, err := repos.Rooms.CreatePrivate(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	sendMessage(t, repos, acRoom.ID, carol.ID, "hey")

	contacts, err := repos.Contacts.ListWithActivity(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, carol.ID, contacts[0].User.ID)
	assert.Equal(t, bob.ID, contacts[1].User.ID)
	assert.Nil(t, contacts[1].LastMessage)
	assert.Equal(t, 0, contacts[1].UnreadCount)
}
