package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/history"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// --- helpers ---

type fakeArchive struct {
	records  map[string]*model.BridgeRecord
	upserts  int
	events   []model.StatusEvent
	nonFinal []model.BridgeRecord
	err      error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{records: map[string]*model.BridgeRecord{}}
}

func (a *fakeArchive) Upsert(_ context.Context, rec *model.BridgeRecord) error {
	a.upserts++
	if a.err != nil {
		return a.err
	}
	cp := *rec
	a.records[rec.RequestID] = &cp
	return nil
}

func (a *fakeArchive) ApplyEvent(_ context.Context, evt model.StatusEvent) error {
	a.events = append(a.events, evt)
	return a.err
}

func (a *fakeArchive) Get(_ context.Context, requestID string) (*model.BridgeRecord, error) {
	if rec, ok := a.records[requestID]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, history.ErrNotFound
}

func (a *fakeArchive) ListNonFinal(context.Context, int) ([]model.BridgeRecord, error) {
	return a.nonFinal, a.err
}

func newTestStore(t *testing.T, archive Archive) (*HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, archive, time.Hour, zap.NewNop()), mr
}

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func record(id string, created time.Time) *model.BridgeRecord {
	return &model.BridgeRecord{
		RequestID:          id,
		ClientID:           "acme",
		Flow:               model.FlowPermit,
		OriginChainID:      8453,
		DestinationChainID: 10,
		AmountBaseUnits:    "1000000",
		Status:             model.StatusPending,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
}

// --- SaveRecord / GetRecord ---

func TestSaveAndGetRecord(t *testing.T) {
	ctx := context.Background()
	archive := newFakeArchive()
	st, mr := newTestStore(t, archive)

	require.NoError(t, st.SaveRecord(ctx, record("0xa", t0)))

	assert.True(t, mr.Exists("bridge:req:0xa"))
	members, err := mr.SMembers("bridge:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xa"}, members)
	assert.Equal(t, time.Hour, mr.TTL("bridge:req:0xa"))
	assert.Equal(t, 1, archive.upserts)

	got, err := st.GetRecord(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.ClientID)
	assert.Equal(t, model.FlowPermit, got.Flow)
}

func TestSaveRecord_RequiresRequestID(t *testing.T) {
	st, _ := newTestStore(t, nil)
	assert.Error(t, st.SaveRecord(context.Background(), &model.BridgeRecord{}))
	assert.Error(t, st.SaveRecord(context.Background(), nil))
}

func TestSaveRecord_ArchiveFailureIsNotFatal(t *testing.T) {
	archive := newFakeArchive()
	archive.err = errors.New("pg down")
	st, mr := newTestStore(t, archive)

	require.NoError(t, st.SaveRecord(context.Background(), record("0xa", t0)))
	assert.True(t, mr.Exists("bridge:req:0xa"))
}

func TestGetRecord_FallsBackToArchiveAndRecaches(t *testing.T) {
	archive := newFakeArchive()
	archive.records["0xold"] = record("0xold", t0)
	st, mr := newTestStore(t, archive)

	got, err := st.GetRecord(context.Background(), "0xold")
	require.NoError(t, err)
	assert.Equal(t, "0xold", got.RequestID)
	assert.True(t, mr.Exists("bridge:req:0xold"))
}

func TestGetRecord_NotFound(t *testing.T) {
	st, _ := newTestStore(t, newFakeArchive())
	_, err := st.GetRecord(context.Background(), "0xnope")
	assert.ErrorIs(t, err, ErrNotFound)

	bare, _ := newTestStore(t, nil)
	_, err = bare.GetRecord(context.Background(), "0xnope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRecord_InvalidJSON(t *testing.T) {
	st, mr := newTestStore(t, nil)
	require.NoError(t, mr.Set("bridge:req:0xbad", "{not json"))

	_, err := st.GetRecord(context.Background(), "0xbad")
	assert.ErrorContains(t, err, "decode record 0xbad")
}

// --- ApplyStatus ---

func TestApplyStatus_UpdatesAndFinalises(t *testing.T) {
	ctx := context.Background()
	archive := newFakeArchive()
	st, mr := newTestStore(t, archive)
	require.NoError(t, st.SaveRecord(ctx, record("0xa", t0)))

	rec, err := st.ApplyStatus(ctx, model.StatusEvent{
		RequestID:  "0xa",
		Status:     model.StatusSubmitted,
		InTxHashes: []string{"0xin"},
		Timestamp:  t0.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, rec.Status)
	assert.Equal(t, []string{"0xin"}, rec.InTxHashes)

	rec, err = st.ApplyStatus(ctx, model.StatusEvent{
		RequestID: "0xa",
		Status:    model.StatusSuccess,
		TxHashes:  []string{"0xout"},
		Final:     true,
		Timestamp: t0.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, rec.Final)
	assert.Equal(t, []string{"0xin"}, rec.InTxHashes, "earlier hashes are kept")
	assert.Equal(t, []string{"0xout"}, rec.TxHashes)
	assert.Len(t, archive.events, 2)

	members, _ := mr.SMembers("bridge:pending")
	assert.Empty(t, members)

	// final records are never reopened
	rec, err = st.ApplyStatus(ctx, model.StatusEvent{RequestID: "0xa", Status: model.StatusPending, Timestamp: t0.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Len(t, archive.events, 2)
}

func TestApplyStatus_ErrorEventKeepsStatus(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, nil)
	require.NoError(t, st.SaveRecord(ctx, record("0xa", t0)))

	rec, err := st.ApplyStatus(ctx, model.StatusEvent{RequestID: "0xa", Status: model.StatusDelayed, Error: "timed out"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.False(t, rec.Final)
}

func TestApplyStatus_TimeoutLeavesPendingSet(t *testing.T) {
	ctx := context.Background()
	archive := newFakeArchive()
	st, mr := newTestStore(t, archive)
	require.NoError(t, st.SaveRecord(ctx, record("0xslow", t0)))

	rec, err := st.ApplyStatus(ctx, model.StatusEvent{
		RequestID: "0xslow",
		Status:    model.StatusPending,
		Error:     "status polling timed out after 60 attempts",
		TimedOut:  true,
		Timestamp: t0.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, rec.TimedOut)
	assert.False(t, rec.Final)
	assert.Equal(t, model.StatusPending, rec.Status)
	require.Len(t, archive.events, 1)
	assert.True(t, archive.events[0].TimedOut)

	isMember, _ := mr.SIsMember("bridge:pending", "0xslow")
	assert.False(t, isMember)

	stored, err := st.GetRecord(ctx, "0xslow")
	require.NoError(t, err)
	assert.True(t, stored.TimedOut)

	recs, err := st.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// a late terminal status still settles the record
	rec, err = st.ApplyStatus(ctx, model.StatusEvent{RequestID: "0xslow", Status: model.StatusSuccess, Final: true, Timestamp: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, rec.Final)
	assert.Equal(t, model.StatusSuccess, rec.Status)
}

func TestApplyStatus_UnknownRequestCreatesRecord(t *testing.T) {
	st, _ := newTestStore(t, nil)

	rec, err := st.ApplyStatus(context.Background(), model.StatusEvent{
		RequestID: "0xnew",
		ClientID:  "acme",
		Flow:      model.FlowSafe,
		Status:    model.StatusWaiting,
		Timestamp: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, model.FlowSafe, rec.Flow)
	assert.Equal(t, t0, rec.CreatedAt)
}

// --- ListPending ---

func TestListPending_PrunesAndMergesArchive(t *testing.T) {
	ctx := context.Background()
	archive := newFakeArchive()
	st, mr := newTestStore(t, archive)

	require.NoError(t, st.SaveRecord(ctx, record("0xb", t0.Add(time.Minute))))
	require.NoError(t, st.SaveRecord(ctx, record("0xa", t0.Add(2*time.Minute))))
	// id whose record expired
	_, err := mr.SAdd("bridge:pending", "0xgone")
	require.NoError(t, err)

	timedOut := record("0xtimeout", t0)
	timedOut.TimedOut = true
	archive.nonFinal = []model.BridgeRecord{*record("0xa", t0.Add(2*time.Minute)), *record("0xpg", t0), *timedOut}

	recs, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "0xpg", recs[0].RequestID, "oldest first")
	assert.Equal(t, "0xb", recs[1].RequestID)
	assert.Equal(t, "0xa", recs[2].RequestID)

	isMember, _ := mr.SIsMember("bridge:pending", "0xgone")
	assert.False(t, isMember)
}

func TestListPending_Empty(t *testing.T) {
	st, _ := newTestStore(t, nil)
	recs, err := st.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// --- HealthCheck / Close / NewHybrid ---

func TestHealthCheck_Success(t *testing.T) {
	st, _ := newTestStore(t, nil)
	require.NoError(t, st.HealthCheck(context.Background()))
}

func TestHealthCheck_RedisNil(t *testing.T) {
	st := &HybridStore{redis: nil}
	err := st.HealthCheck(context.Background())
	assert.ErrorContains(t, err, "redis not initialized")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := &HybridStore{redis: rdb}

	mr.Close()

	err = st.HealthCheck(context.Background())
	assert.ErrorContains(t, err, "redis ping failed")
}

func TestClose_NilComponents(t *testing.T) {
	st := &HybridStore{}
	require.NoError(t, st.Close())
}

func TestNewHybrid_RedisOnly(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybrid(Options{RedisAddr: mr.Addr(), RecordTTL: time.Hour}, nil)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Nil(t, st.archive)
	require.NoError(t, st.Close())
}

func TestNewHybrid_InvalidRedis(t *testing.T) {
	_, err := NewHybrid(Options{RedisAddr: "localhost:1"}, nil)
	assert.ErrorContains(t, err, "redis ping failed")
}

func TestNewHybrid_InvalidPGURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	_, err = NewHybrid(Options{RedisAddr: mr.Addr(), PGURL: "not-a-valid-pg-url"}, nil)
	assert.Error(t, err)
}
