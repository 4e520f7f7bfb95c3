package coordination

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ChannelID is a deterministic routing token for one direction between two
// controllers. It identifies and deduplicates messages; it is not a secret.
type ChannelID string

// DeriveChannelID returns the id of the src -> dst channel. It is asymmetric.
func DeriveChannelID(src, dst string) ChannelID {
	return ChannelID(fmt.Sprintf("%016x", xxhash.Sum64String(src+"->"+dst)))
}

// Channels holds the ids of every directed channel among a set of controllers.
type Channels struct {
	ids map[[2]string]ChannelID
}

// EstablishChannels derives a channel for every ordered pair of distinct members.
// self is an endpoint even when it is not listed among the members.
func EstablishChannels(self string, peers *PeerSet) *Channels {
	c := &Channels{ids: make(map[[2]string]ChannelID)}
	members := peers.IDs()
	if !peers.Contains(self) {
		members = append(members, self)
	}
	for _, src := range members {
		for _, dst := range members {
			if src != dst {
				c.ids[[2]string{src, dst}] = DeriveChannelID(src, dst)
			}
		}
	}
	return c
}

// Lookup returns the src -> dst channel.
func (c *Channels) Lookup(src, dst string) (ChannelID, bool) {
	id, ok := c.ids[[2]string{src, dst}]
	return id, ok
}

// Len returns the number of channels.
func (c *Channels) Len() int {
	return len(c.ids)
}

// Drop removes every channel to or from id.
func (c *Channels) Drop(id string) {
	for pair := range c.ids {
		if pair[0] == id || pair[1] == id {
			delete(c.ids, pair)
		}
	}
}
