package resolver

import (
	"context"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

func TestReadWriteHostIsRoundRobin(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7} {
		masters := make([]common.Endpoint, n)
		for i := range masters {
			masters[i] = common.NewEndpoint("m", 6000+i)
		}

		r, err := New(masters, nil, nil)
		require.NoError(t, err)

		for i := uint64(0); i < 50; i++ {
			assert.Equal(t, masters[i%uint64(n)], r.GetReadWriteHost(i))
		}
	}
}

func TestReadOnlyHost(t *testing.T) {
	masters := common.ParseAddrs("m1:1", "m2:2")
	replicas := common.ParseAddrs("r1:1", "r2:2", "r3:3")

	r, err := New(masters, replicas, nil)
	require.NoError(t, err)

	for i := uint64(0); i < 50; i++ {
		assert.Equal(t, replicas[i%3], r.GetReadOnlyHost(i))
	}

	r.ResetSlaves(nil)
	for i := uint64(0); i < 50; i++ {
		assert.Equal(t, r.GetReadWriteHost(i), r.GetReadOnlyHost(i))
	}
}

func TestSingleMasterWithoutReplicas(t *testing.T) {
	r, err := New(common.ParseAddrs("x:1"), nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.ResetMasters(common.ParseAddrs("a:6379")))
	r.ResetSlaves(nil)

	assert.Equal(t, r.GetReadWriteHost(5), r.GetReadOnlyHost(5))
	assert.Equal(t, "a:6379", r.GetReadOnlyHost(5).String())
}

func TestResetMastersRejectsEmpty(t *testing.T) {
	masters := common.ParseAddrs("a:1", "b:2")
	r, err := New(masters, nil, nil)
	require.NoError(t, err)

	err = r.ResetMasters(nil)
	assert.True(t, errors.Is(err, common.ErrInvalidConfig))
	err = r.ResetMasters([]common.Endpoint{})
	assert.True(t, errors.Is(err, common.ErrInvalidConfig))

	assert.Equal(t, masters, r.Masters())

	_, err = New(nil, nil, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidConfig))
}

func TestResetCopiesInput(t *testing.T) {
	masters := common.ParseAddrs("a:1")
	r, err := New(masters, nil, nil)
	require.NoError(t, err)

	masters[0] = common.ParseAddr("changed:2")
	assert.Equal(t, "a:1", r.GetReadWriteHost(0).String())

	got := r.Masters()
	got[0] = common.ParseAddr("changed:2")
	assert.Equal(t, "a:1", r.GetReadWriteHost(0).String())
}

func TestHostCount(t *testing.T) {
	r, err := New(common.ParseAddrs("a:1", "b:2"), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, r.HostCount(client.ReadWrite))
	assert.Equal(t, 2, r.HostCount(client.ReadOnly))

	r.ResetSlaves(common.ParseAddrs("r:1", "r:2", "r:3"))
	assert.Equal(t, 3, r.HostCount(client.ReadOnly))
}

func TestCreateClientUsesFactory(t *testing.T) {
	type call struct {
		ep   common.Endpoint
		role client.Role
	}
	var calls []call
	factory := func(_ context.Context, ep common.Endpoint, role client.Role) (*client.Conn, error) {
		calls = append(calls, call{ep, role})
		return nil, errors.New("test double")
	}

	r, err := New(common.ParseAddrs("a:1"), nil, nil)
	require.NoError(t, err)

	_, err = r.CreateClient(context.Background(), r.GetReadWriteHost(0), true)
	assert.True(t, errors.Is(err, ErrNoFactory))

	r.SetClientFactory(factory)
	_, _ = r.CreateClient(context.Background(), r.GetReadWriteHost(0), true)
	_, _ = r.CreateClient(context.Background(), r.GetReadOnlyHost(0), false)

	require.Len(t, calls, 2)
	assert.Equal(t, client.ReadWrite, calls[0].role)
	assert.Equal(t, client.ReadOnly, calls[1].role)
	assert.Equal(t, "a:1", calls[1].ep.String())
}

func TestConcurrentResetAndRead(t *testing.T) {
	a := common.ParseAddrs("a:1", "a:2")
	b := common.ParseAddrs("b:1", "b:2", "b:3")

	r, err := New(a, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := uint64(0); i < 1000; i++ {
				host := r.GetReadWriteHost(i).Host
				assert.Contains(t, []string{"a", "b"}, host)
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			require.NoError(t, r.ResetMasters(b))
		} else {
			require.NoError(t, r.ResetMasters(a))
		}
	}
	wg.Wait()
}
