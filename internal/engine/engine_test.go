package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"taskquest/internal/blob"
	"taskquest/internal/config"
	"taskquest/internal/db"
	"taskquest/internal/domain"
	"taskquest/internal/engine"
	"taskquest/internal/engine/auth"
	"taskquest/internal/events"
	"taskquest/internal/migrate"
	"taskquest/internal/suggest"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	eng := engine.New(conn, cfg).WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
	eng.Blob = blob.Local{Dir: filepath.Join(dir, "blobs"), BaseURL: "/blobs"}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func as(ctx context.Context, id string) context.Context {
	return auth.WithIdentity(ctx, auth.Identity{ID: id})
}

func (env testEnv) challenge(t *testing.T, owner string, tasks ...string) engine.ChallengeWithTasks {
	t.Helper()
	in := engine.ChallengeInput{Title: "Hydration week"}
	for _, title := range tasks {
		in.Tasks = append(in.Tasks, engine.TaskInput{Title: title})
	}
	c, err := env.Engine.CreateChallenge(as(env.Ctx, owner), in)
	require.NoError(t, err)
	return c
}

func (env testEnv) profile(t *testing.T, id, nickname string) domain.Profile {
	t.Helper()
	p, err := env.Engine.CreateProfile(as(env.Ctx, id), nickname)
	require.NoError(t, err)
	return p
}

func (env testEnv) balance(t *testing.T, id string) int64 {
	t.Helper()
	p, err := env.Engine.GetProfileByIdentity(env.Ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Balance
}

func TestMutationsRequireIdentity(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProfile(env.Ctx, "nick")
	require.ErrorIs(t, err, engine.ErrUnauthenticated)
	_, err = env.Engine.CompleteTask(env.Ctx, "t1")
	require.ErrorIs(t, err, engine.ErrUnauthenticated)
	_, err = env.Engine.Purchase(env.Ctx, nil)
	require.ErrorIs(t, err, engine.ErrUnauthenticated)
	_, err = env.Engine.InitializeCatalog(env.Ctx)
	require.ErrorIs(t, err, engine.ErrUnauthenticated)

	p, err := env.Engine.GetProfile(env.Ctx)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestCreateProfile(t *testing.T) {
	env := newTestEnv(t)
	p := env.profile(t, "alice", "  Ali  ")
	require.Equal(t, "Ali", p.Nickname)
	require.Zero(t, p.Balance)
	require.Nil(t, p.SelectedItem)
	require.Empty(t, p.PurchasedItems)

	_, err := env.Engine.CreateProfile(as(env.Ctx, "alice"), "again")
	require.ErrorIs(t, err, engine.ErrAlreadyExists)

	_, err = env.Engine.CreateProfile(as(env.Ctx, "bob"), "   ")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateProfile(as(env.Ctx, "bob"), strings.Repeat("x", 65))
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	got, err := env.Engine.GetProfile(as(env.Ctx, "alice"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, p.ID, got.ID)
}

func TestCompleteTaskCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.profile(t, "alice", "Ali")
	c := env.challenge(t, "alice", "drink water", "walk")
	ctx := as(env.Ctx, "alice")

	res, err := env.Engine.CompleteTask(ctx, c.Tasks[0].ID)
	require.NoError(t, err)
	require.True(t, res.Credited)
	require.NotNil(t, res.Balance)
	require.Equal(t, int64(1), *res.Balance)
	require.False(t, res.ChallengeCompleted)

	_, err = env.Engine.CompleteTask(ctx, c.Tasks[0].ID)
	require.ErrorIs(t, err, engine.ErrAlreadyCompleted)
	_, err = env.Engine.CompleteTask(as(env.Ctx, "bob"), c.Tasks[0].ID)
	require.ErrorIs(t, err, engine.ErrAlreadyCompleted)
	require.Equal(t, int64(1), env.balance(t, "alice"))

	_, err = env.Engine.CompleteTask(ctx, "missing")
	require.ErrorIs(t, err, engine.ErrNotFound)
	require.Equal(t, int64(1), env.balance(t, "alice"))
}

func TestCompleteTaskWithoutProfile(t *testing.T) {
	env := newTestEnv(t)
	c := env.challenge(t, "owner", "one")
	res, err := env.Engine.CompleteTask(as(env.Ctx, "ghost"), c.Tasks[0].ID)
	require.NoError(t, err)
	require.False(t, res.Credited)
	require.Nil(t, res.Balance)
	require.True(t, res.ChallengeCompleted)

	views, err := env.Engine.TasksWithCompletion(env.Ctx, c.Challenge.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, domain.UnknownCompleter, views[0].CompletedBy)
	require.Equal(t, domain.TaskCompleted, views[0].Status)
	require.NotNil(t, views[0].CompletedAt)
}

func TestConcurrentCompletionSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	const n = 12
	for i := 0; i < n; i++ {
		env.profile(t, identity(i), identity(i))
	}
	c := env.challenge(t, "owner", "race")
	taskID := c.Tasks[0].ID

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CompleteTask(as(env.Ctx, identity(i)), taskID)
		}(i)
	}
	wg.Wait()

	wins := 0
	var total int64
	for i, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, engine.ErrAlreadyCompleted)
		}
		total += env.balance(t, identity(i))
	}
	require.Equal(t, 1, wins)
	require.Equal(t, int64(1), total)

	got, err := env.Engine.GetChallenge(env.Ctx, c.Challenge.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeCompleted, got.Status)
}

func TestConcurrentSiblingCompletionsRollUpOnce(t *testing.T) {
	env := newTestEnv(t)
	titles := []string{"a", "b", "c", "d", "e", "f"}
	c := env.challenge(t, "owner", titles...)
	before := testutil.ToFloat64(engine.ChallengesCompletedMetric)

	var wg sync.WaitGroup
	flips := make([]bool, len(c.Tasks))
	errs := make([]error, len(c.Tasks))
	for i, task := range c.Tasks {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := env.Engine.CompleteTask(as(env.Ctx, identity(i)), id)
			flips[i], errs[i] = res.ChallengeCompleted, err
		}(i, task.ID)
	}
	wg.Wait()

	n := 0
	for i, f := range flips {
		require.NoError(t, errs[i])
		if f {
			n++
		}
	}
	require.Equal(t, 1, n)
	require.Equal(t, before+1, testutil.ToFloat64(engine.ChallengesCompletedMetric))
}

func TestRollupTwoUsers(t *testing.T) {
	env := newTestEnv(t)
	c := env.challenge(t, "owner", "T1", "T2")

	_, err := env.Engine.CompleteTask(as(env.Ctx, "userA"), c.Tasks[0].ID)
	require.NoError(t, err)
	got, err := env.Engine.GetChallenge(env.Ctx, c.Challenge.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeActive, got.Status)
	require.Nil(t, got.CompletedAt)

	res, err := env.Engine.CompleteTask(as(env.Ctx, "userB"), c.Tasks[1].ID)
	require.NoError(t, err)
	require.True(t, res.ChallengeCompleted)
	got, err = env.Engine.GetChallenge(env.Ctx, c.Challenge.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	_, err = env.Engine.CreateTask(as(env.Ctx, "owner"), c.Challenge.ID, engine.TaskInput{Title: "late"})
	require.ErrorIs(t, err, engine.ErrChallengeCompleted)

	flipped, err := env.Engine.RecomputeChallenge(as(env.Ctx, "admin"), c.Challenge.ID)
	require.NoError(t, err)
	require.False(t, flipped, "rollup is idempotent")
}

func TestEmptyChallengeStaysActive(t *testing.T) {
	env := newTestEnv(t)
	c := env.challenge(t, "owner")
	flipped, err := env.Engine.RecomputeChallenge(as(env.Ctx, "owner"), c.Challenge.ID)
	require.NoError(t, err)
	require.False(t, flipped)

	task, err := env.Engine.CreateTask(as(env.Ctx, "owner"), c.Challenge.ID, engine.TaskInput{Title: "first"})
	require.NoError(t, err)
	require.Equal(t, domain.TaskPending, task.Status)

	_, err = env.Engine.CreateTask(as(env.Ctx, "owner"), "nope", engine.TaskInput{Title: "x"})
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestPurchaseScenario(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.InitializeCatalog(as(env.Ctx, auth.SystemIdentity))
	require.NoError(t, err)
	env.profile(t, "p", "Pat")
	c := env.challenge(t, "owner", "t1", "t2", "t3", "t4", "t5")
	ctx := as(env.Ctx, "p")
	for _, task := range c.Tasks[:4] {
		_, err := env.Engine.CompleteTask(ctx, task.ID)
		require.NoError(t, err)
	}
	require.Equal(t, int64(4), env.balance(t, "p"))

	x := "/chapmanBG.png"
	_, err = env.Engine.Purchase(ctx, &x)
	require.ErrorIs(t, err, engine.ErrInsufficientFunds)
	p, err := env.Engine.GetProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), p.Balance)
	require.Empty(t, p.PurchasedItems)
	require.Nil(t, p.SelectedItem)

	_, err = env.Engine.CompleteTask(ctx, c.Tasks[4].ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), env.balance(t, "p"))

	res, err := env.Engine.Purchase(ctx, &x)
	require.NoError(t, err)
	require.Equal(t, int64(5), res.Charged)
	require.Zero(t, res.Profile.Balance)
	require.Equal(t, []string{x}, res.Profile.PurchasedItems)
	require.NotNil(t, res.Profile.SelectedItem)
	require.Equal(t, x, *res.Profile.SelectedItem)

	res, err = env.Engine.Purchase(ctx, &x)
	require.NoError(t, err, "owned items are re-selected for free")
	require.True(t, res.AlreadyOwned)
	require.Zero(t, res.Charged)
	require.Zero(t, res.Profile.Balance)

	res, err = env.Engine.Purchase(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, res.Profile.SelectedItem)
	require.Equal(t, []string{x}, res.Profile.PurchasedItems)

	selected, err := env.Engine.LatestEvents(env.Ctx, 10, 0, events.ItemSelected, "profile", res.Profile.ID)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	require.JSONEq(t, `{"image_ref":null}`, selected[0].Payload)
	require.JSONEq(t, `{"image_ref":"/chapmanBG.png"}`, selected[1].Payload)
}

func TestPurchaseErrors(t *testing.T) {
	env := newTestEnv(t)
	x := "/kuzBG.png"
	_, err := env.Engine.Purchase(as(env.Ctx, "nobody"), &x)
	require.ErrorIs(t, err, engine.ErrNotFound)

	env.profile(t, "p", "Pat")
	_, err = env.Engine.Purchase(as(env.Ctx, "p"), &x)
	require.ErrorIs(t, err, engine.ErrNotFound, "catalog not seeded yet")

	empty := " "
	_, err = env.Engine.Purchase(as(env.Ctx, "p"), &empty)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestInitializeCatalogIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := as(env.Ctx, auth.SystemIdentity)
	added, err := env.Engine.InitializeCatalog(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, added)
	added, err = env.Engine.InitializeCatalog(ctx)
	require.NoError(t, err)
	require.Zero(t, added)

	items, err := env.Engine.ListStoreItems(env.Ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	seen := map[string]bool{}
	for _, it := range items {
		require.False(t, seen[it.ImageRef])
		seen[it.ImageRef] = true
		require.Equal(t, int64(5), it.Price)
	}
}

func TestLeaderboardOrder(t *testing.T) {
	env := newTestEnv(t)
	env.profile(t, "a", "A")
	env.profile(t, "b", "B")
	env.profile(t, "c", "C")
	ch := env.challenge(t, "owner", "1", "2", "3")
	_, err := env.Engine.CompleteTask(as(env.Ctx, "c"), ch.Tasks[0].ID)
	require.NoError(t, err)
	_, err = env.Engine.CompleteTask(as(env.Ctx, "c"), ch.Tasks[1].ID)
	require.NoError(t, err)
	_, err = env.Engine.CompleteTask(as(env.Ctx, "b"), ch.Tasks[2].ID)
	require.NoError(t, err)

	board, err := env.Engine.Leaderboard(env.Ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 3)
	require.Equal(t, []string{"C", "B", "A"}, nicknames(board))
	require.Equal(t, 1, board[0].Rank)
	require.Equal(t, int64(2), board[0].Balance)

	top, err := env.Engine.Leaderboard(env.Ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
}

func TestLeaderboardTiesKeepCreationOrder(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"z", "y", "x"} {
		env.profile(t, id, strings.ToUpper(id))
	}
	board, err := env.Engine.Leaderboard(env.Ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"Z", "Y", "X"}, nicknames(board))
}

func TestLeaderboardCancelledCallerDoesNotFailOthers(t *testing.T) {
	env := newTestEnv(t)
	env.profile(t, "alice", "Ali")

	// Hold the only pooled connection so the shared read blocks.
	held, err := env.Engine.DB.Conn(env.Ctx)
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(env.Ctx)
	errA := make(chan error, 1)
	go func() {
		_, err := env.Engine.Leaderboard(ctxA, 10)
		errA <- err
	}()
	time.Sleep(50 * time.Millisecond)

	type result struct {
		board []domain.LeaderboardEntry
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		board, err := env.Engine.Leaderboard(env.Ctx, 10)
		resB <- result{board, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)
	require.NoError(t, held.Close())

	select {
	case r := <-resB:
		require.NoError(t, r.err)
		require.Equal(t, []string{"Ali"}, nicknames(r.board))
	case <-time.After(5 * time.Second):
		t.Fatal("leaderboard read did not finish")
	}
}

func TestSearchChallenges(t *testing.T) {
	env := newTestEnv(t)
	ctx := as(env.Ctx, "owner")
	for _, title := range []string{"Sleep better", "Water and sleep", "Gym 100%"} {
		_, err := env.Engine.CreateChallenge(ctx, engine.ChallengeInput{Title: title})
		require.NoError(t, err)
	}
	res, err := env.Engine.SearchChallenges(env.Ctx, "sleep water", 0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "Water and sleep", res[0].Title)

	res, err = env.Engine.SearchChallenges(env.Ctx, "100%", 0)
	require.NoError(t, err)
	require.Len(t, res, 1)

	res, err = env.Engine.SearchChallenges(env.Ctx, "   ", 0)
	require.NoError(t, err)
	require.Empty(t, res)

	all, err := env.Engine.ListChallenges(env.Ctx)
	require.NoError(t, err)
	require.Equal(t, "Gym 100%", all[0].Title, "newest first")
}

func TestProofUploadAndAttach(t *testing.T) {
	env := newTestEnv(t)
	c := env.challenge(t, "owner", "photo")
	ctx := as(env.Ctx, "alice")

	up, err := env.Engine.UploadProof(ctx, "proof.jpg", "image/jpeg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	require.Equal(t, int64(4), up.Size)
	require.True(t, strings.HasPrefix(up.URL, "/blobs/"))

	img, err := env.Engine.AttachProofImage(ctx, engine.ProofInput{
		TaskID: c.Tasks[0].ID, StorageHandle: up.StorageHandle, Filename: "proof.jpg", MimeType: "image/jpeg", Size: up.Size,
	})
	require.NoError(t, err)
	require.Equal(t, up.URL, img.URL)

	got, err := env.Engine.GetProofImage(env.Ctx, img.ID)
	require.NoError(t, err)
	require.Equal(t, img.StorageHandle, got.StorageHandle)

	views, err := env.Engine.TasksWithCompletion(env.Ctx, c.Challenge.ID)
	require.NoError(t, err)
	require.NotNil(t, views[0].ProofImageID)
	require.Equal(t, img.ID, *views[0].ProofImageID)
	require.Equal(t, up.URL, views[0].ProofImageURL)
	require.Empty(t, views[0].CompletedBy, "attaching proof does not complete the task")

	_, err = env.Engine.AttachProofImage(ctx, engine.ProofInput{TaskID: "missing", StorageHandle: "h", Filename: "f"})
	require.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.GetProofImage(env.Ctx, "missing")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestRecalculateBalances(t *testing.T) {
	env := newTestEnv(t)
	c := env.challenge(t, "owner", "1", "2")
	_, err := env.Engine.CompleteTask(as(env.Ctx, "late"), c.Tasks[0].ID)
	require.NoError(t, err)
	_, err = env.Engine.CompleteTask(as(env.Ctx, "late"), c.Tasks[1].ID)
	require.NoError(t, err)
	env.profile(t, "late", "Late")
	require.Zero(t, env.balance(t, "late"))

	n, err := env.Engine.RecalculateBalances(as(env.Ctx, "admin"))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, int64(2), env.balance(t, "late"))

	n, err = env.Engine.RecalculateBalances(as(env.Ctx, "admin"))
	require.NoError(t, err)
	require.Zero(t, n)
}

type fakeGenerator struct {
	draft suggest.Draft
	err   error
}

func (f fakeGenerator) Generate(context.Context, string) (suggest.Draft, error) {
	return f.draft, f.err
}

func TestSuggestAndCreateFromDraft(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SuggestChallenge(env.Ctx, "hydrate")
	require.ErrorIs(t, err, suggest.ErrUnavailable)

	draft := suggest.Draft{Title: "Hydrate", Tasks: []suggest.DraftTask{
		{Task: "a"}, {Task: "b"}, {Task: "c"}, {Task: "d"},
	}}
	env.Engine.Suggest = fakeGenerator{draft: draft}
	got, err := env.Engine.SuggestChallenge(env.Ctx, "hydrate")
	require.NoError(t, err)

	c, err := env.Engine.CreateChallengeFromDraft(as(env.Ctx, "owner"), got)
	require.NoError(t, err)
	require.Len(t, c.Tasks, 4)

	_, err = env.Engine.CreateChallengeFromDraft(as(env.Ctx, "owner"), suggest.Draft{Title: "short"})
	require.True(t, errors.Is(err, engine.ErrInvalidInput))
}

func TestConflictAfterRetryBudget(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Tx.MaxRetries = 1
	env.Engine.Tx.BaseDelay = time.Millisecond
	env.Engine.Tx.Retryable = func(error) bool { return true }
	_, err := env.Engine.CreateProfile(as(env.Ctx, "a"), "A")
	require.NoError(t, err)
	_, err = env.Engine.CreateProfile(as(env.Ctx, "a"), "A")
	require.ErrorIs(t, err, engine.ErrConflict)
}

func identity(i int) string {
	return "user-" + string(rune('a'+i))
}

func nicknames(entries []domain.LeaderboardEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Nickname)
	}
	return out
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := as(env.Ctx, "alice")
	key, plain, err := env.Engine.CreateAPIKey(ctx, "laptop")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(plain, "tq_"))
	require.NotEqual(t, plain, key.KeyHash)

	owner, err := env.Engine.ResolveAPIKey(env.Ctx, plain)
	require.NoError(t, err)
	require.Equal(t, "alice", owner)

	keys, err := env.Engine.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	err = env.Engine.RevokeAPIKey(as(env.Ctx, "bob"), key.ID)
	require.ErrorIs(t, err, engine.ErrNotFound)
	require.NoError(t, env.Engine.RevokeAPIKey(ctx, key.ID))
	_, err = env.Engine.ResolveAPIKey(env.Ctx, plain)
	require.ErrorIs(t, err, engine.ErrNotFound)
}
