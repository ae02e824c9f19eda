package taskquestsdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskquest/internal/blob"
	"taskquest/internal/config"
	"taskquest/internal/db"
	"taskquest/internal/engine"
	"taskquest/internal/engine/auth"
	"taskquest/internal/migrate"
	"taskquest/internal/server"
)

const secret = "sdk-secret"

func newTestAPI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default())
	e.Blob = blob.Local{Dir: filepath.Join(dir, "blobs"), BaseURL: "/blobs"}
	_, err = e.InitializeCatalog(auth.WithIdentity(context.Background(), auth.Identity{ID: auth.SystemIdentity}))
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func clientFor(t *testing.T, baseURL, identityID string) *Client {
	t.Helper()
	token, err := server.SignToken(secret, identityID, time.Hour)
	require.NoError(t, err)
	c := New(baseURL)
	c.BearerToken = token
	return c
}

func TestClientRoundTrip(t *testing.T) {
	baseURL := newTestAPI(t)
	ctx := context.Background()
	alice := clientFor(t, baseURL, "alice")
	bob := clientFor(t, baseURL, "bob")

	me, err := alice.Me(ctx)
	require.NoError(t, err)
	require.Nil(t, me)

	p, err := alice.CreateProfile(ctx, "Ali")
	require.NoError(t, err)
	require.Equal(t, "alice", p.IdentityID)
	_, err = bob.CreateProfile(ctx, "Bo")
	require.NoError(t, err)

	c, err := alice.CreateChallenge(ctx, NewChallenge{
		Title: "Morning routine",
		Tasks: []NewTask{{Title: "Stretch"}},
	})
	require.NoError(t, err)
	extra, err := alice.AddTask(ctx, c.Challenge.ID, NewTask{Title: "Cold shower"})
	require.NoError(t, err)

	res, err := alice.CompleteTask(ctx, c.Tasks[0].ID)
	require.NoError(t, err)
	require.True(t, res.Credited)
	require.False(t, res.ChallengeCompleted)

	res, err = bob.CompleteTask(ctx, extra.ID)
	require.NoError(t, err)
	require.True(t, res.ChallengeCompleted)

	_, err = bob.CompleteTask(ctx, extra.ID)
	require.True(t, IsCode(err, "already_completed"), err)

	up, err := alice.UploadProof(ctx, "stretch.png", "image/png", []byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NotEmpty(t, up.StorageHandle)
	img, err := alice.AttachProof(ctx, c.Tasks[0].ID, up, "stretch.png", "done", "image/png")
	require.NoError(t, err)
	require.Equal(t, c.Tasks[0].ID, img.TaskID)

	tasks, err := alice.Tasks(ctx, c.Challenge.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	byID := map[string]Task{}
	for _, task := range tasks {
		byID[task.ID] = task
	}
	require.Equal(t, "Ali", byID[c.Tasks[0].ID].CompletedBy)
	require.Equal(t, "Bo", byID[extra.ID].CompletedBy)
	require.NotNil(t, byID[c.Tasks[0].ID].ProofImageID)

	found, err := alice.SearchChallenges(ctx, "morning", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "completed", found[0].Status)

	items, err := alice.StoreItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	ref := items[0].ImageRef
	_, err = alice.Purchase(ctx, &ref)
	require.True(t, IsCode(err, "insufficient_funds"), err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)

	cleared, err := alice.Purchase(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, cleared.Profile.SelectedItem)

	board, err := alice.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	require.Equal(t, "Ali", board[0].Nickname)
	require.Equal(t, "Bo", board[1].Nickname)
}

func TestClientAnonymousMutationFails(t *testing.T) {
	baseURL := newTestAPI(t)
	c := New(baseURL)
	_, err := c.CreateProfile(context.Background(), "ghost")
	require.True(t, IsCode(err, "unauthenticated"), err)

	list, err := c.Challenges(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}
