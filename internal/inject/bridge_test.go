package inject

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/proxy"
)

type Store interface {
	Get(key string) string
}

type mapStore struct{ name string }

func (m *mapStore) Get(key string) string { return m.name + key }

type Clock struct{}

type Target struct {
	ByContainer *Clock `inject:""`
	Typed       *Clock `autowired:""`
	Primary     Store  `qualifier:"primaryStore"`
	backupStore Store  `qualifier:""`
	Named       Store  `resource:"primaryStore"`
	UserCache   Store  `resource:""`
	Fallback    *Clock `resource:""`
	// 多个标记只认第一个
	Stacked Store `qualifier:"backupStore" resource:"primaryStore"`
	Plain   Store
}

func newContainer() (*container.Container, *mapStore, *mapStore, *Clock) {
	c := container.New(nil)
	primary := &mapStore{name: "primary"}
	backup := &mapStore{name: "backup"}
	clock := &Clock{}
	c.MustRegister("primaryStore", primary)
	c.MustRegister("backupStore", backup)
	c.MustRegister("userCache", backup)
	c.MustRegister("clock", clock)
	return c, primary, backup, clock
}

func TestMarkerOf(t *testing.T) {
	typ := reflect.TypeFor[Target]()

	sf, _ := typ.FieldByName("Stacked")
	m, ok := MarkerOf(sf)
	require.True(t, ok)
	assert.Equal(t, Marker{Kind: ByQualifier, Name: "backupStore"}, m)

	sf, _ = typ.FieldByName("Plain")
	_, ok = MarkerOf(sf)
	assert.False(t, ok)
}

func TestInject(t *testing.T) {
	c, primary, backup, clock := newContainer()
	target := &Target{}

	require.NoError(t, New(c).Inject(target))
	assert.Same(t, clock, target.ByContainer)
	assert.Same(t, clock, target.Typed)
	assert.Same(t, primary, target.Primary)
	assert.Same(t, backup, target.backupStore)
	assert.Same(t, primary, target.Named)
	// 字段名 UserCache 找不到，按首字母小写 userCache 命中
	assert.Same(t, backup, target.UserCache)
	// 名字都找不到时按类型
	assert.Same(t, clock, target.Fallback)
	assert.Same(t, backup, target.Stacked)
	assert.Nil(t, target.Plain)
}

func TestInjectKeepsAssignedFields(t *testing.T) {
	c, _, _, _ := newContainer()
	own := &mapStore{name: "own"}
	target := &Target{Primary: own}

	require.NoError(t, New(c).Inject(target))
	assert.Same(t, own, target.Primary)
}

type ambiguous struct {
	Store Store `autowired:""`
	Other Store `qualifier:"missing"`
	Clock *Clock
}

func TestInjectFailures(t *testing.T) {
	c, _, _, _ := newContainer()
	target := &ambiguous{}

	err := New(c).Inject(target)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInjection))
	assert.Contains(t, err.Error(), "field:Store")
	assert.Contains(t, err.Error(), "found 3")
	assert.Contains(t, err.Error(), "field:Other")

	err = New(c).Inject(ambiguous{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInjection)
}

// lookupOnly 只提供查找能力，不带容器自身注入
type lookupOnly struct {
	*container.Container
}

func (lookupOnly) AutowireBean() {}

func TestInjectWithoutAutowirer(t *testing.T) {
	c, _, _, clock := newContainer()
	var lookup container.Lookup = lookupOnly{c}
	_, isAutowirer := lookup.(container.Autowirer)
	require.False(t, isAutowirer)

	target := &Target{}
	require.NoError(t, New(lookup).Inject(target))
	assert.Nil(t, target.ByContainer)
	assert.Same(t, clock, target.Typed)
}

type Billing struct{ Label string }

// auditedBilling 内嵌代理
type auditedBilling struct {
	*Billing
}

func (*auditedBilling) ProxyKind() proxy.Kind { return proxy.KindEmbedded }

// guardedStore 接口代理
type guardedStore struct {
	target Store
}

func (g *guardedStore) Get(key string) string { return "guarded:" + g.target.Get(key) }
func (*guardedStore) ProxyKind() proxy.Kind { return proxy.KindInterface }
func (g *guardedStore) Target() any { return g.target }

type proxiedTarget struct {
	Typed     *Billing  `autowired:""`
	Qualified *Billing  `qualifier:"billing"`
	Named     *Billing  `resource:"billing"`
	ByType    *Billing  `resource:""`
	Store     Store     `autowired:""`
	Guard     Store     `qualifier:"guard"`
	Inner     *mapStore `resource:"guard"`
	InnerQ    *mapStore `qualifier:"guard"`
}

func TestInjectThroughProxies(t *testing.T) {
	billing := &Billing{Label: "x"}
	inner := &mapStore{name: "inner"}
	guard := &guardedStore{target: inner}

	c := container.New(nil)
	c.MustRegister("billing", &auditedBilling{Billing: billing})
	c.MustRegister("guard", guard)

	target := &proxiedTarget{}
	require.NoError(t, New(c).Inject(target))

	tests := []struct {
		field string
		got   any
		want  any
	}{
		{"autowired 内嵌代理注入原始对象", target.Typed, billing},
		{"qualifier 内嵌代理注入原始对象", target.Qualified, billing},
		{"resource 按名字命中内嵌代理", target.Named, billing},
		{"resource 按类型命中内嵌代理", target.ByType, billing},
		{"autowired 接口类型保留代理", target.Store, guard},
		{"qualifier 接口类型保留代理", target.Guard, guard},
		{"resource 具体类型展开接口代理", target.Inner, inner},
		{"qualifier 具体类型展开接口代理", target.InnerQ, inner},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Same(t, tt.want, tt.got)
		})
	}
}

type wrongProxyTarget struct {
	Clock *Clock `qualifier:"billing"`
}

func TestInjectProxyOfWrongType(t *testing.T) {
	c := container.New(nil)
	c.MustRegister("billing", &auditedBilling{Billing: &Billing{}})

	err := New(c).Inject(&wrongProxyTarget{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field:Clock")
	assert.Contains(t, err.Error(), "can not assign")
}
