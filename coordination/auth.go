package coordination

import (
	"fmt"

	stamerrors "github.com/xiaonanln/stam/util/errors"
)

// Controller is a cooperating controller instance.
type Controller struct {
	ID        string
	SharedKey string
}

// PeerSet is the ordered set of controllers that passed authentication.
// Membership only shrinks during a session.
type PeerSet struct {
	ids []string
}

// IDs returns the members in configuration order.
func (p *PeerSet) IDs() []string {
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// Len returns the number of members.
func (p *PeerSet) Len() int {
	return len(p.ids)
}

// Contains reports whether id is a member.
func (p *PeerSet) Contains(id string) bool {
	for _, m := range p.ids {
		if m == id {
			return true
		}
	}
	return false
}

// Others returns every member except self.
func (p *PeerSet) Others(self string) []string {
	out := make([]string, 0, len(p.ids))
	for _, m := range p.ids {
		if m != self {
			out = append(out, m)
		}
	}
	return out
}

// Remove drops id from the set.
func (p *PeerSet) Remove(id string) {
	for i, m := range p.ids {
		if m == id {
			p.ids = append(p.ids[:i:i], p.ids[i+1:]...)
			return
		}
	}
}

// Authenticate builds the PeerSet for self from the configured controller ids:
// a controller is admitted only when keys holds a shared key for it. Order is
// preserved and duplicates collapse. Every rejected id yields an UnauthenticatedPeer error.
func Authenticate(self string, controllers []string, keys KeyTable) (*PeerSet, []error) {
	peers := &PeerSet{}
	seen := make(map[string]bool, len(controllers))
	var rejected []error
	for _, id := range controllers {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := keys.Lookup(id); !ok {
			rejected = append(rejected, stamerrors.New(stamerrors.UnauthenticatedPeer, "authenticate", id,
				fmt.Errorf("no shared key on record")))
			continue
		}
		peers.ids = append(peers.ids, id)
	}
	return peers, rejected
}

// Members returns the authenticated controllers with their keys.
func Members(peers *PeerSet, keys KeyTable) []Controller {
	out := make([]Controller, 0, peers.Len())
	for _, id := range peers.ids {
		k, _ := keys.Lookup(id)
		out = append(out, Controller{ID: id, SharedKey: k})
	}
	return out
}
