package secrets

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Checker-Finance/darkpool-adapter/pkg/darkpool"
)

type cachedCredential struct {
	cred    darkpool.Credential
	expires time.Time
}

// CredentialCache holds parsed relayer credentials per secret name for a
// fixed TTL. Concurrent misses for the same name share one load.
type CredentialCache struct {
	mu      sync.RWMutex
	entries map[SecretName]cachedCredential
	ttl     time.Duration
	now     func() time.Time
	loads   singleflight.Group
}

func NewCredentialCache(ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		entries: make(map[SecretName]cachedCredential),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached credential for name if it has not expired.
func (c *CredentialCache) Get(name SecretName) (darkpool.Credential, bool) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return darkpool.Credential{}, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[name]; ok && cur.expires.Equal(e.expires) {
			delete(c.entries, name)
		}
		c.mu.Unlock()
		return darkpool.Credential{}, false
	}
	return e.cred, true
}

func (c *CredentialCache) Put(name SecretName, cred darkpool.Credential) {
	c.mu.Lock()
	c.entries[name] = cachedCredential{cred: cred, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Load returns the cached credential or calls load once for all concurrent
// callers and caches its result. The bool reports a cache hit.
func (c *CredentialCache) Load(name SecretName, load func() (darkpool.Credential, error)) (darkpool.Credential, bool, error) {
	if cred, ok := c.Get(name); ok {
		return cred, true, nil
	}
	v, err, _ := c.loads.Do(name.String(), func() (any, error) {
		if cred, ok := c.Get(name); ok {
			return cred, nil
		}
		cred, err := load()
		if err != nil {
			return nil, err
		}
		c.Put(name, cred)
		return cred, nil
	})
	if err != nil {
		return darkpool.Credential{}, false, err
	}
	return v.(darkpool.Credential), false, nil
}

// Bust drops name, e.g. after the relayer rejects a rotated key.
func (c *CredentialCache) Bust(name SecretName) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

func (c *CredentialCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartCleaner drops expired credentials every interval until stop closes.
func (c *CredentialCache) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.dropExpired()
		case <-stop:
			return
		}
	}
}

func (c *CredentialCache) dropExpired() {
	now := c.now()
	c.mu.Lock()
	for name, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, name)
		}
	}
	c.mu.Unlock()
}
