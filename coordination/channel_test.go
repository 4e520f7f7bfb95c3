package coordination

import (
	"fmt"
	"testing"
)

func TestDeriveChannelID_Asymmetric(t *testing.T) {
	ids := []string{"ctrlA", "ctrlB", "ctrlC", "a", "b", "ab", "ba"}
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			if DeriveChannelID(a, b) == DeriveChannelID(b, a) {
				t.Fatalf("ChannelID(%s,%s) == ChannelID(%s,%s)", a, b, b, a)
			}
		}
	}
}

func TestDeriveChannelID_Deterministic(t *testing.T) {
	if DeriveChannelID("A", "B") != DeriveChannelID("A", "B") {
		t.Fatal("ChannelID is not deterministic")
	}
	if got := len(DeriveChannelID("A", "B")); got != 16 {
		t.Fatalf("ChannelID length = %d, want 16", got)
	}
}

func TestEstablishChannels(t *testing.T) {
	var ids []string
	keys := StaticKeyTable{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("c%d", i)
		ids = append(ids, id)
		keys[id] = "k"
	}
	peers, _ := Authenticate("c0", ids, keys)
	ch := EstablishChannels("c0", peers)
	if ch.Len() != 12 {
		t.Fatalf("Len() = %d, want 12", ch.Len())
	}
	if _, ok := ch.Lookup("c1", "c1"); ok {
		t.Fatal("no channel to self")
	}
	id, ok := ch.Lookup("c2", "c3")
	if !ok || id != DeriveChannelID("c2", "c3") {
		t.Fatalf("Lookup(c2,c3) = %s, %v", id, ok)
	}

	ch.Drop("c3")
	if ch.Len() != 6 {
		t.Fatalf("Len() after Drop = %d, want 6", ch.Len())
	}
}

func TestEstablishChannels_SelfOutsideControllerList(t *testing.T) {
	peers, _ := Authenticate("A", []string{"B", "C"}, StaticKeyTable{"A": "k", "B": "k", "C": "k"})
	ch := EstablishChannels("A", peers)
	for _, peer := range []string{"B", "C"} {
		id, ok := ch.Lookup("A", peer)
		if !ok || id != DeriveChannelID("A", peer) {
			t.Fatalf("Lookup(A,%s) = %q, %v", peer, id, ok)
		}
	}
	if ch.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", ch.Len())
	}
}
