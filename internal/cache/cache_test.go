package cache

import (
	"context"
	"errors"
	"net"
	"os"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Account struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type accountService struct{}

func TestDefaultKey(t *testing.T) {
	assert.Equal(t, "SimpleKey []", KeyString(DefaultKey(nil)))
	assert.Equal(t, "7", KeyString(DefaultKey([]any{int64(7)})))
	assert.Equal(t, "SimpleKey [a,1]", KeyString(DefaultKey([]any{"a", 1})))
	assert.Equal(t, "SimpleKey [null]", KeyString(DefaultKey([]any{nil})))
	assert.Equal(t, `{"id":1,"name":"n"}`, KeyString(Account{ID: 1, Name: "n"}))
}

func TestKeyExpression(t *testing.T) {
	g := NewKeyGenerator()

	tests := []struct {
		name string
		op   Operation
		args []any
		want any
	}{
		{"位置参数", Operation{Key: "'user:' + p0"}, []any{int64(3)}, "user:3"},
		{"args 数组", Operation{Key: "args[1]"}, []any{"a", "b"}, "b"},
		{"参数名", Operation{Key: "id + ':' + name", ParamNames: []string{"id", "name"}}, []any{int64(1), "x"}, "1:x"},
		{"json 字段名", Operation{Key: "p0.name"}, []any{&Account{Name: "acc"}}, "acc"},
		{"null", Operation{Key: "null"}, []any{1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Generate(tt.op, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := g.Generate(Operation{Key: "p0.("}, []any{1})
	assert.Error(t, err)

	g.Timeout = 50 * time.Millisecond
	_, err = g.Generate(Operation{Key: "for(;;){}"}, nil)
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", Account{ID: 1, Name: "a"}, time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v.(map[string]any)["name"])

	now = now.Add(2 * time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "forever", "v", 0))
	deleted, err := s.Delete(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete(ctx, "forever")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), 0)
	owner := reflect.TypeFor[*accountService]()
	m.Registry().Declare(owner, "Find", Operation{Kind: Cacheable, CacheNames: []string{"account"}, Key: "'id:' + p0"})
	m.Registry().Declare(owner, "Rename", Operation{Kind: Evict, CacheNames: []string{"account"}, Key: "'id:' + p0"})

	assert.True(t, m.Registry().IsCandidate(reflect.TypeFor[accountService]()))
	assert.Len(t, m.Registry().Operations(owner, "Find"), 1)

	calls := 0
	load := func() (Account, error) {
		calls++
		return Account{ID: 9, Name: "n" + strconv.Itoa(calls)}, nil
	}

	got, err := Cached(ctx, m, owner, "Find", []any{int64(9)}, load)
	require.NoError(t, err)
	assert.Equal(t, "n1", got.Name)

	got, err = Cached(ctx, m, owner, "Find", []any{int64(9)}, load)
	require.NoError(t, err)
	assert.Equal(t, "n1", got.Name)
	assert.Equal(t, 1, calls)

	raw, ok, err := m.Store().Get(ctx, "account::id:9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, raw)

	_, err = Cached(ctx, m, owner, "Rename", []any{int64(9)}, func() (bool, error) { return true, nil })
	require.NoError(t, err)
	_, ok, _ = m.Store().Get(ctx, "account::id:9")
	assert.False(t, ok)

	_, err = Cached(ctx, m, owner, "Find", []any{int64(1)}, func() (Account, error) { return Account{}, errors.New("boom") })
	assert.Error(t, err)
}

// 需要本地 Redis，设置 TK_TEST_REDIS=host:port 时运行
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TK_TEST_REDIS")
	if addr == "" {
		t.Skip("TK_TEST_REDIS not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	defer s.Close()

	key := "testkit::" + strconv.FormatInt(time.Now().UnixNano(), 10)
	require.NoError(t, s.Set(ctx, key, map[string]any{"a": 1}, time.Minute))
	v, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, v, "a")

	deleted, err := s.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, deleted)
}
