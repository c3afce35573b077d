package dao

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"deskchat/deskchat/sources/psql"
	"deskchat/deskchat/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// --- Helpers ---
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "deskchat.db") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := psql.Open(context.Background(), sqlite.Open(dsn), true)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db.DB
}

func createAgent(t *testing.T, db *gorm.DB, email string) string {
	t.Helper()
	agent, err := NewAgentDAO(db).CreateAgent(context.Background(), email, email, "hash")
	require.NoError(t, err)
	return agent.ID
}

func TestAgentDAO_CreateAndLookup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	agents := NewAgentDAO(db)

	created, err := agents.CreateAgent(ctx, "a@example.com", "Ann", "hash")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	byEmail, err := agents.GetAgentByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, created.ID, byEmail.ID)

	byID, err := agents.GetAgentByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Ann", byID.DisplayName)

	missing, err := agents.GetAgentByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.Nil(t, missing)

	_, err = agents.CreateAgent(ctx, "a@example.com", "Other", "hash")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestChatDAO_CreateWithInitialMessage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	chats := NewChatDAO(db)
	messages := NewMessageDAO(db)

	chat, err := chats.CreateChat(ctx, "Alice", "my order is late")
	require.NoError(t, err)
	require.Equal(t, string(types.StatusUnassigned), chat.Status)

	msgs, err := messages.ListByChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, int64(1), msgs[0].Seq)
	require.Equal(t, chat.ID, msgs[0].SenderID)
	require.Equal(t, string(types.SenderCustomer), msgs[0].SenderType)

	stored, err := chats.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.LastSeq)
	require.Contains(t, stored.Transcript, "Initial Message: my order is late")

	_, err = chats.GetChat(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMessageDAO_SeqIsMonotonic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	chat, err := NewChatDAO(db).CreateChat(ctx, "Bob", "")
	require.NoError(t, err)
	messages := NewMessageDAO(db)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := messages.SaveMessage(ctx, chat.ID, chat.ID, types.SenderCustomer, "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := messages.ListByChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.Seq)
	}

	stored, err := NewChatDAO(db).GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Contains(t, stored.Transcript, "Customer: hello")
}

func TestMessageDAO_RejectsClosedAndMissingChats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	chats := NewChatDAO(db)
	messages := NewMessageDAO(db)

	_, err := messages.SaveMessage(ctx, "missing", "x", types.SenderCustomer, "hi")
	require.ErrorIs(t, err, ErrNotFound)

	chat, err := chats.CreateChat(ctx, "Carol", "")
	require.NoError(t, err)
	_, err = chats.Close(ctx, chat.ID)
	require.NoError(t, err)

	_, err = messages.SaveMessage(ctx, chat.ID, chat.ID, types.SenderCustomer, "hi")
	require.ErrorIs(t, err, ErrChatClosed)

	_, err = chats.Close(ctx, chat.ID)
	require.ErrorIs(t, err, ErrChatClosed)
}

func TestChatDAO_AssignExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	chats := NewChatDAO(db)

	chat, err := chats.CreateChat(ctx, "Dana", "")
	require.NoError(t, err)

	const n = 8
	agentIDs := make([]string, n)
	for i := range agentIDs {
		agentIDs[i] = createAgent(t, db, string(rune('a'+i))+"@example.com")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for _, id := range agentIDs {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			_, err := chats.Assign(ctx, chat.ID, agentID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, agentID)
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyAssigned)
			losers++
		}(id)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, n-1, losers)

	stored, err := chats.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, string(types.StatusActive), stored.Status)
	require.Equal(t, winners[0], *stored.AgentID)

	available, err := chats.ListAvailable(ctx)
	require.NoError(t, err)
	require.Empty(t, available)

	mine, err := chats.ListByAgent(ctx, winners[0], string(types.StatusActive))
	require.NoError(t, err)
	require.Len(t, mine, 1)

	_, err = chats.Assign(ctx, "missing", winners[0])
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChatDAO_ListByAgentStatusFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	chats := NewChatDAO(db)
	agentID := createAgent(t, db, "e@example.com")

	first, err := chats.CreateChat(ctx, "Eve", "")
	require.NoError(t, err)
	second, err := chats.CreateChat(ctx, "Fay", "")
	require.NoError(t, err)
	_, err = chats.Assign(ctx, first.ID, agentID)
	require.NoError(t, err)
	_, err = chats.Assign(ctx, second.ID, agentID)
	require.NoError(t, err)
	_, err = chats.Close(ctx, second.ID)
	require.NoError(t, err)

	active, err := chats.ListByAgent(ctx, agentID, "active")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, first.ID, active[0].ID)

	all, err := chats.ListByAgent(ctx, agentID, "all")
	require.NoError(t, err)
	require.Len(t, all, 2)
}
