package shop

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/redis/rueidis/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/promoflash/promoflash/cache"
	"github.com/promoflash/promoflash/dlock"
	"github.com/promoflash/promoflash/store"
)

func newFixture(t *testing.T) (*mock.Client, *store.Store, *Service) {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)

	c, err := cache.NewClient(client, dlock.NewLocker(client), cache.Options{TTLJitter: -1})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return client, st, New(c, st)
}

func matchSet(key string, payload bool) gomock.Matcher {
	return mock.MatchFn(func(cmd []string) bool {
		if cmd[0] != "SET" || cmd[1] != key {
			return false
		}
		return payload == (cmd[2] != "")
	}, fmt.Sprintf("SET %s payload=%v", key, payload))
}

func TestGetByID_CacheHit(t *testing.T) {
	client, _, svc := newFixture(t)

	cached, err := json.Marshal(&store.Shop{ID: 1, Name: "Old Town Cafe"})
	require.NoError(t, err)
	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "cache:shop:1")).
		Return(mock.Result(mock.RedisString(string(cached))))

	got, err := svc.GetByID(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Old Town Cafe", got.Name)
}

func TestGetByID_MissLoadsAndPopulates(t *testing.T) {
	client, st, svc := newFixture(t)

	require.NoError(t, st.SaveShop(t.Context(), &store.Shop{ID: 1, Name: "Old Town Cafe", Area: "downtown"}))
	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "cache:shop:1")).
		Return(mock.Result(mock.RedisNil()))
	client.EXPECT().
		Do(gomock.Any(), matchSet("cache:shop:1", true)).
		Return(mock.Result(mock.RedisString("OK")))

	got, err := svc.GetByID(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Old Town Cafe", got.Name)
}

func TestGetByID_UnknownShopWritesTombstone(t *testing.T) {
	client, _, svc := newFixture(t)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "cache:shop:404")).
		Return(mock.Result(mock.RedisNil()))
	client.EXPECT().
		Do(gomock.Any(), matchSet("cache:shop:404", false)).
		Return(mock.Result(mock.RedisString("OK")))

	_, err := svc.GetByID(t.Context(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByID_TombstoneShortCircuits(t *testing.T) {
	client, _, svc := newFixture(t)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "cache:shop:404")).
		Return(mock.Result(mock.RedisString("")))

	// No loader call and no write: the confirmed absence is served from cache.
	_, err := svc.GetByID(t.Context(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByIDHot_FreshEnvelope(t *testing.T) {
	client, _, svc := newFixture(t)

	data, err := json.Marshal(&store.Shop{ID: 1, Name: "Old Town Cafe"})
	require.NoError(t, err)
	env := fmt.Sprintf(`{"data":%s,"logicalExpiresAt":%q}`,
		data, time.Now().Add(time.Hour).Format(time.RFC3339Nano))
	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "cache:shop:1")).
		Return(mock.Result(mock.RedisString(env)))

	got, err := svc.GetByIDHot(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Old Town Cafe", got.Name)
}

func TestGetByIDHot_MissingEnvelope(t *testing.T) {
	client, _, svc := newFixture(t)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "cache:shop:1")).
		Return(mock.Result(mock.RedisNil()))

	_, err := svc.GetByIDHot(t.Context(), 1)
	assert.ErrorIs(t, err, cache.ErrEnvelopeMissing)
}

func TestUpdate_InvalidatesCacheAfterWrite(t *testing.T) {
	client, st, svc := newFixture(t)

	require.NoError(t, st.SaveShop(t.Context(), &store.Shop{ID: 1, Name: "Old Town Cafe"}))
	client.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "cache:shop:1")).
		Return(mock.Result(mock.RedisInt64(1)))

	require.NoError(t, svc.Update(t.Context(), &store.Shop{ID: 1, Name: "New Town Cafe"}))

	got, err := st.GetShop(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, "New Town Cafe", got.Name)
}

func TestUpdate_RequiresID(t *testing.T) {
	_, _, svc := newFixture(t)
	assert.Error(t, svc.Update(t.Context(), &store.Shop{Name: "nameless"}))
}

func TestPrewarm_SeedsEnvelopes(t *testing.T) {
	client, st, svc := newFixture(t)

	require.NoError(t, st.SaveShop(t.Context(), &store.Shop{ID: 1, Name: "one"}))
	require.NoError(t, st.SaveShop(t.Context(), &store.Shop{ID: 2, Name: "two"}))
	client.EXPECT().
		Do(gomock.Any(), matchSet("cache:shop:1", true)).
		Return(mock.Result(mock.RedisString("OK")))
	client.EXPECT().
		Do(gomock.Any(), matchSet("cache:shop:2", true)).
		Return(mock.Result(mock.RedisString("OK")))

	require.NoError(t, svc.Prewarm(t.Context(), []int64{1, 2}, time.Hour))
}

func TestPrewarm_UnknownShopFails(t *testing.T) {
	_, _, svc := newFixture(t)
	assert.Error(t, svc.Prewarm(t.Context(), []int64{404}, time.Hour))
}
