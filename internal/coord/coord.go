// Package coord brokers advisory, time-bounded claims on world resources
// between agents. Claims are not locks: a denied caller gets a suggested
// wait and decides for itself whether to retry or give up.
package coord

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is used when Request is called with a non-positive ttl.
const DefaultTTL = 30 * time.Second

// Claim is one held grant.
type Claim struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	AgentID   string    `json:"agent_id"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Decision is the answer to a Request.
type Decision struct {
	Granted bool
	Claim   Claim
	// Wait suggests how long to back off before asking again. Zero when
	// Granted.
	Wait time.Duration
	// Holder is the agent currently owning the key when denied.
	Holder string
}

// Coordinator holds claims in memory. Expired claims are ignored on
// lookup and swept by Expire.
type Coordinator struct {
	now func() time.Time

	mu     sync.Mutex
	claims map[string]Claim
	denied int
}

// New creates a Coordinator. now may be nil.
func New(now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{now: now, claims: make(map[string]Claim)}
}

// Request asks for key on behalf of agentID. A request from the current
// holder extends the claim.
func (c *Coordinator) Request(agentID, key string, ttl time.Duration) Decision {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.claims[key]; ok && cur.ExpiresAt.After(now) {
		if cur.AgentID != agentID {
			c.denied++
			return Decision{Wait: cur.ExpiresAt.Sub(now), Holder: cur.AgentID}
		}
		cur.ExpiresAt = now.Add(ttl)
		c.claims[key] = cur
		return Decision{Granted: true, Claim: cur}
	}

	cl := Claim{
		ID:        uuid.NewString(),
		Key:       key,
		AgentID:   agentID,
		GrantedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.claims[key] = cl
	return Decision{Granted: true, Claim: cl}
}

// Release drops key if agentID holds it. Releasing someone else's claim is
// a no-op and returns false.
func (c *Coordinator) Release(agentID, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.claims[key]
	if !ok || cur.AgentID != agentID {
		return false
	}
	delete(c.claims, key)
	return true
}

// ReleaseAll drops every claim held by agentID.
func (c *Coordinator) ReleaseAll(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, cl := range c.claims {
		if cl.AgentID == agentID {
			delete(c.claims, k)
			n++
		}
	}
	return n
}

// Expire sweeps claims whose deadline is at or before now.
func (c *Coordinator) Expire(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, cl := range c.claims {
		if !cl.ExpiresAt.After(now) {
			delete(c.claims, k)
			n++
		}
	}
	return n
}

// Status summarises live claims for the command surface.
type Status struct {
	Active []Claim `json:"active"`
	Denied int     `json:"denied"`
}

// Status lists live claims ordered by key.
func (c *Coordinator) Status() Status {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Status{Denied: c.denied}
	for _, cl := range c.claims {
		if cl.ExpiresAt.After(now) {
			out.Active = append(out.Active, cl)
		}
	}
	sort.Slice(out.Active, func(i, j int) bool { return out.Active[i].Key < out.Active[j].Key })
	return out
}
