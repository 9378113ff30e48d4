package peripheral

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ble-advertiser/radio"
)

func mustDescriptor(t *testing.T, id string, props ...string) CharacteristicDescriptor {
	t.Helper()
	d, err := NewCharacteristicDescriptor(id, props, []string{"READABLE", "WRITABLE"}, nil)
	require.NoError(t, err)
	return d
}

func TestRegistryAddServiceRegistersEveryHandle(t *testing.T) {
	r := NewServiceRegistry()
	svcID := uuid.MustParse(colourServiceID)

	svc := r.AddService(svcID, []CharacteristicDescriptor{
		mustDescriptor(t, notifyCharID, "NOTIFY"),
		mustDescriptor(t, readCharID, "READ"),
		mustDescriptor(t, writeCharID, "WRITE"),
	})

	require.Len(t, svc.Characteristics, 3)
	assert.True(t, svc.IsPrimary)
	for i, id := range []string{notifyCharID, readCharID, writeCharID} {
		h, ok := r.LookupHandle(id)
		require.True(t, ok, id)
		assert.Same(t, svc.Characteristics[i], h)
		assert.Same(t, svc, h.Service)
	}
	assert.Equal(t, []uuid.UUID{svcID}, r.ServiceIDs())
}

func TestRegistrySecondServiceKeepsFirstHandles(t *testing.T) {
	r := NewServiceRegistry()
	first := r.AddService(uuid.New(), []CharacteristicDescriptor{mustDescriptor(t, notifyCharID, "NOTIFY")})
	r.AddService(uuid.New(), []CharacteristicDescriptor{mustDescriptor(t, readCharID, "READ")})

	h, ok := r.LookupHandle(notifyCharID)
	require.True(t, ok)
	assert.Same(t, first.Characteristics[0], h)
	assert.True(t, r.Has(readCharID))
	assert.Len(t, r.ServiceIDs(), 2)
}

func TestRegistryReRegistrationOverwritesHandle(t *testing.T) {
	r := NewServiceRegistry()
	first := r.AddService(uuid.New(), []CharacteristicDescriptor{mustDescriptor(t, notifyCharID, "NOTIFY")})
	second := r.AddService(uuid.New(), []CharacteristicDescriptor{mustDescriptor(t, notifyCharID, "NOTIFY", "READ")})

	h, ok := r.LookupHandle(notifyCharID)
	require.True(t, ok)
	assert.Same(t, second.Characteristics[0], h)
	assert.NotSame(t, first.Characteristics[0], h)
}

func TestRegistryServiceIDsOncePerIdentifier(t *testing.T) {
	r := NewServiceRegistry()
	id := uuid.MustParse(colourServiceID)
	r.AddService(id, nil)
	r.AddService(id, nil)

	ids := r.ServiceIDs()
	assert.Equal(t, []uuid.UUID{id}, ids)

	ids[0] = uuid.Nil
	assert.Equal(t, id, r.ServiceIDs()[0], "ServiceIDs returns a copy")
}

func TestRegistryReadValues(t *testing.T) {
	r := NewServiceRegistry()

	_, ok := r.ReadValue(readCharID)
	assert.False(t, ok)

	r.SetReadValue(readCharID, []byte("#00FF00"))
	r.SetReadValue("3d84e60b-90d0-40d4-993a-1b83424cb868", []byte("#FF8800"))

	v, ok := r.ReadValue(readCharID)
	require.True(t, ok)
	assert.Equal(t, "#FF8800", string(v), "last write wins regardless of identifier case")

	r.SetReadValue("garbage", []byte("x"))
	v, ok = r.ReadValue(" GARBAGE")
	assert.True(t, ok)
	assert.Equal(t, "x", string(v))
}

func TestRegistrySubscribers(t *testing.T) {
	r := NewServiceRegistry()
	a := radio.Central{ID: "central-a"}
	b := radio.Central{ID: "central-b"}

	r.Subscribed(notifyCharID, b)
	r.Subscribed(notifyCharID, a)
	r.Subscribed(notifyCharID, a)
	assert.Equal(t, []radio.Central{a, b}, r.Subscribers(notifyCharID))

	r.Unsubscribed(notifyCharID, a)
	r.Unsubscribed(notifyCharID, b)
	assert.Empty(t, r.Subscribers(notifyCharID))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewServiceRegistry()
	r.AddService(uuid.New(), []CharacteristicDescriptor{mustDescriptor(t, readCharID, "READ")})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.SetReadValue(readCharID, []byte(fmt.Sprintf("%d-%d", i, j)))
				r.ReadValue(readCharID)
				r.LookupHandle(readCharID)
			}
		}(i)
	}
	wg.Wait()

	_, ok := r.ReadValue(readCharID)
	assert.True(t, ok)
}
