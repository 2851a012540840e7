package resolver

import (
	"context"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"strings"
	"sync/atomic"
)

var Logger = logger.GetLogger("resolver")

var ErrNoFactory = errors.New("no connection factory configured")

// Resolver holds the master and replica endpoint lists and picks the target
// of new connections. Both lists are replaced as a whole, readers always see
// a complete list.
type Resolver struct {
	masters  atomic.Pointer[[]common.Endpoint]
	replicas atomic.Pointer[[]common.Endpoint]
	factory  atomic.Pointer[client.Factory]
}

// New creates a resolver. masters must not be empty, replicas may be.
func New(masters, replicas []common.Endpoint, factory client.Factory) (*Resolver, error) {
	r := &Resolver{}
	if err := r.ResetMasters(masters); err != nil {
		return nil, err
	}
	r.ResetSlaves(replicas)
	r.SetClientFactory(factory)
	return r, nil
}

// --------------------------------------------------------------------------
// Topology
// --------------------------------------------------------------------------

// ResetMasters replaces the master list. An empty list is rejected and the
// previous list stays active. Leased connections are not affected.
func (r *Resolver) ResetMasters(masters []common.Endpoint) error {
	if len(masters) == 0 {
		return errors.Wrap(common.ErrInvalidConfig, "master list must not be empty")
	}
	list := append([]common.Endpoint(nil), masters...)
	r.masters.Store(&list)
	Logger.Infof("masters set to [%s]", hostList(list))
	return nil
}

// ResetSlaves replaces the replica list. With an empty list reads go to the
// masters.
func (r *Resolver) ResetSlaves(replicas []common.Endpoint) {
	list := append([]common.Endpoint(nil), replicas...)
	r.replicas.Store(&list)
	if len(list) == 0 {
		Logger.Infof("replicas cleared, reads go to masters")
		return
	}
	Logger.Infof("replicas set to [%s]", hostList(list))
}

// Masters returns a copy of the current master list
func (r *Resolver) Masters() []common.Endpoint {
	return append([]common.Endpoint(nil), *r.masters.Load()...)
}

// Replicas returns a copy of the current replica list
func (r *Resolver) Replicas() []common.Endpoint {
	return append([]common.Endpoint(nil), *r.replicas.Load()...)
}

// --------------------------------------------------------------------------
// Selection
// --------------------------------------------------------------------------

// GetReadWriteHost returns masters[index mod len(masters)]. The index is
// supplied by the caller, the resolver keeps no selection state.
func (r *Resolver) GetReadWriteHost(index uint64) common.Endpoint {
	masters := *r.masters.Load()
	return masters[index%uint64(len(masters))]
}

// GetReadOnlyHost returns replicas[index mod len(replicas)], or
// GetReadWriteHost(index) when there are no replicas
func (r *Resolver) GetReadOnlyHost(index uint64) common.Endpoint {
	replicas := *r.replicas.Load()
	if len(replicas) == 0 {
		return r.GetReadWriteHost(index)
	}
	return replicas[index%uint64(len(replicas))]
}

// HostCount returns the number of hosts serving the given role
func (r *Resolver) HostCount(role client.Role) int {
	if role == client.ReadOnly {
		if n := len(*r.replicas.Load()); n > 0 {
			return n
		}
	}
	return len(*r.masters.Load())
}

// --------------------------------------------------------------------------
// Connection construction
// --------------------------------------------------------------------------

// SetClientFactory replaces the hook used by CreateClient
func (r *Resolver) SetClientFactory(factory client.Factory) {
	r.factory.Store(&factory)
}

// CreateClient opens a connection to ep through the configured factory
func (r *Resolver) CreateClient(ctx context.Context, ep common.Endpoint, isMaster bool) (*client.Conn, error) {
	factory := r.factory.Load()
	if factory == nil || *factory == nil {
		return nil, ErrNoFactory
	}

	role := client.ReadWrite
	if !isMaster {
		role = client.ReadOnly
	}
	return (*factory)(ctx, ep, role)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func hostList(endpoints []common.Endpoint) string {
	hosts := make([]string, len(endpoints))
	for i, ep := range endpoints {
		hosts[i] = ep.String()
	}
	return strings.Join(hosts, ", ")
}
