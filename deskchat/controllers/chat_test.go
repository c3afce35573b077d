package controllers

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"deskchat/deskchat/config"
	"deskchat/deskchat/sources/psql"
	"deskchat/deskchat/sources/psql/dao"
	"deskchat/deskchat/sources/storage"
	"deskchat/deskchat/types"
	utiltypes "deskchat/deskchat/utils/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingArchive struct {
	mu    sync.Mutex
	saved []storage.Transcript
}

func (a *recordingArchive) ArchiveTranscript(ctx context.Context, t storage.Transcript) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, t)
	return storage.TranscriptKey(t.ChatID, t.ClosedAt), nil
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "controllers.db") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := psql.Open(context.Background(), sqlite.Open(dsn), true)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db.DB
}

func testConfig() config.Config {
	return config.Config{JWTSecret: "test-secret"}
}

func TestAuthController_LoginAndCreateAgent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	auth := NewAuthController(dao.NewAgentDAO(db), testConfig())

	agent, err := auth.CreateAgent(ctx, "Ann@Example.com", "s3cret", "Ann")
	require.NoError(t, err)
	require.Equal(t, "ann@example.com", agent.Email)
	require.NotEqual(t, "s3cret", agent.PasswordHash)

	resp, err := auth.Login(ctx, utiltypes.LoginRequest{Email: "ann@example.com", Password: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, agent.ID, resp.AgentID)
	require.Equal(t, "Ann", resp.DisplayName)
	require.NotEmpty(t, resp.AccessToken)

	_, err = auth.Login(ctx, utiltypes.LoginRequest{Email: "ann@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, utiltypes.LoginRequest{Email: "nobody@example.com", Password: "x"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.CreateAgent(ctx, "", "x", "y")
	require.ErrorIs(t, err, ErrValidation)
}

func TestChatController_Lifecycle(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	archive := &recordingArchive{}
	chats := NewChatController(dao.NewChatDAO(db), dao.NewMessageDAO(db), archive, nil)
	auth := NewAuthController(dao.NewAgentDAO(db), testConfig())
	agent, err := auth.CreateAgent(ctx, "bo@example.com", "pw", "Bo")
	require.NoError(t, err)

	_, err = chats.CreateChat(ctx, utiltypes.CreateChatRequest{Name: "  "})
	require.ErrorIs(t, err, ErrValidation)

	created, err := chats.CreateChat(ctx, utiltypes.CreateChatRequest{Name: "Alice", InitialMessage: "where is my parcel"})
	require.NoError(t, err)
	require.Equal(t, string(types.StatusUnassigned), created.Status)

	available, err := chats.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)

	_, err = chats.AuthorizeAgent(ctx, created.ID, agent.ID)
	require.ErrorIs(t, err, ErrForbidden)

	assigned, err := chats.Assign(ctx, created.ID, agent.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusActive, assigned.Status)
	require.Equal(t, agent.ID, *assigned.AssignedAgentID)

	_, err = chats.Assign(ctx, created.ID, agent.ID)
	require.ErrorIs(t, err, dao.ErrAlreadyAssigned)

	mine, err := chats.ListAssigned(ctx, agent.ID, "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	_, err = chats.ListAssigned(ctx, agent.ID, "bogus")
	require.ErrorIs(t, err, ErrValidation)

	_, err = chats.SendMessage(ctx, created.ID, agent.ID, types.SenderAgent, "   ")
	require.ErrorIs(t, err, ErrValidation)
	_, err = chats.SendMessage(ctx, created.ID, agent.ID, "robot", "hi")
	require.ErrorIs(t, err, ErrValidation)

	msg, err := chats.SendMessage(ctx, created.ID, agent.ID, types.SenderAgent, "on its way")
	require.NoError(t, err)
	require.Equal(t, int64(2), msg.Seq)

	msgs, err := chats.ListMessages(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "where is my parcel", msgs[0].Content)
	require.Equal(t, "on its way", msgs[1].Content)

	_, err = chats.ListMessages(ctx, "missing")
	require.ErrorIs(t, err, dao.ErrNotFound)

	closed, err := chats.CloseChat(ctx, created.ID, agent.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	require.Len(t, archive.saved, 1)
	require.Equal(t, created.ID, archive.saved[0].ChatID)
	require.Equal(t, agent.ID, archive.saved[0].AgentID)
	require.Contains(t, archive.saved[0].Text, "Initial Message: where is my parcel")
	require.Contains(t, archive.saved[0].Text, "Agent: on its way")

	_, err = chats.CloseChat(ctx, created.ID, agent.ID)
	require.ErrorIs(t, err, dao.ErrChatClosed)
	require.Len(t, archive.saved, 1)
}
