package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/yohcop/openid-go"
)

type (
	discoveredInfo struct {
		Endpoint string `cbor:"1,keyasint"`
		LocalID  string `cbor:"2,keyasint"`
		Claimed  string `cbor:"3,keyasint"`
	}

	xxHasher struct{}

	// DiscoveryCache is shared by every request, entries expire after the
	// configured ttl.
	DiscoveryCache struct {
		cache *bigcache.BigCache
	}

	// sessionDiscoveryCache answers from the endpoint recorded in the
	// visitor session before falling back to the shared cache.
	// openid-go calls Put without a context, ctx is the one of the
	// request being served.
	sessionDiscoveryCache struct {
		ctx     context.Context
		session *Session
		shared  *DiscoveryCache
	}
)

const (
	sessClaimedID  = "claimed_id"
	sessOPEndpoint = "op_endpoint"
	sessOPLocalID  = "op_local_id"
	sessIdentifier = "identifier"
)

func (d discoveredInfo) OpEndpoint() string { return d.Endpoint }
func (d discoveredInfo) OpLocalID() string  { return d.LocalID }
func (d discoveredInfo) ClaimedID() string  { return d.Claimed }

func (xxHasher) Sum64(key string) uint64 {
	return xxhash.Sum64String(key)
}

// NewDiscoveryCache returns a cache keeping entries for ttl, a zero ttl
// disables caching.
func NewDiscoveryCache(ttl time.Duration) (*DiscoveryCache, error) {
	if ttl <= 0 {
		return &DiscoveryCache{}, nil
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Hasher = xxHasher{}
	cfg.Shards = 64
	cfg.Verbose = false
	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, err
	}
	return &DiscoveryCache{cache: cache}, nil
}

func (d *DiscoveryCache) Put(id string, info openid.DiscoveredInfo) {
	if d == nil || d.cache == nil || info == nil {
		return
	}
	buf, err := cbor.Marshal(discoveredInfo{
		Endpoint: info.OpEndpoint(),
		LocalID:  info.OpLocalID(),
		Claimed:  info.ClaimedID(),
	})
	if err != nil {
		return
	}
	d.cache.Set(id, buf)
}

func (d *DiscoveryCache) Get(id string) openid.DiscoveredInfo {
	if d == nil || d.cache == nil {
		return nil
	}
	buf, err := d.cache.Get(id)
	if err != nil {
		return nil
	}
	var info discoveredInfo
	if err := cbor.Unmarshal(buf, &info); err != nil {
		return nil
	}
	return info
}

func (d *DiscoveryCache) Close() error {
	if d == nil || d.cache == nil {
		return nil
	}
	return d.cache.Close()
}

func (s sessionDiscoveryCache) Put(id string, info openid.DiscoveredInfo) {
	if info == nil {
		return
	}
	m := s.session.Load()
	m[sessClaimedID] = info.ClaimedID()
	m[sessOPEndpoint] = info.OpEndpoint()
	m[sessOPLocalID] = info.OpLocalID()
	if err := s.session.Save(m); err != nil {
		libraryLog(s.ctx, fmt.Sprintf("unable to record discovered endpoint for %v in the session: %v", id, err))
	}
	s.shared.Put(id, info)
}

func (s sessionDiscoveryCache) Get(id string) openid.DiscoveredInfo {
	m := s.session.Load()
	if m[sessClaimedID] == id && m[sessOPEndpoint] != "" {
		return discoveredInfo{
			Endpoint: m[sessOPEndpoint],
			LocalID:  m[sessOPLocalID],
			Claimed:  m[sessClaimedID],
		}
	}
	return s.shared.Get(id)
}
