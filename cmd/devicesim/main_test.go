package main

import (
	"math/rand"
	"testing"

	"github.com/xiaonanln/stam/register"
)

func TestAssignFlows(t *testing.T) {
	dev := register.NewMemoryDevice("sim", register.NewLayout(16, 4))
	tc := trafficConfig{flows: 6, servers: 3, maxPackets: 10, packetSize: 100}
	if err := assignFlows(dev, tc); err != nil {
		t.Fatalf("assignFlows failed: %v", err)
	}

	flows := dev.Snapshot(register.FlowToServer)
	for f := 0; f < 6; f++ {
		server, ok := register.ServerOf(flows[f])
		if !ok || server != f%3 {
			t.Fatalf("flow %d -> %d, %v; want %d", f, server, ok, f%3)
		}
	}
	if flows[6] != 0 {
		t.Fatalf("flow 6 should be unassigned")
	}
	if w := dev.Snapshot(register.ServerWeights); w[0] != 10 || w[3] != 0 {
		t.Fatalf("initial weights = %v", w)
	}
}

func TestTrafficStep(t *testing.T) {
	dev := register.NewMemoryDevice("sim", register.NewLayout(16, 4))
	tc := trafficConfig{flows: 8, servers: 2, maxPackets: 10, packetSize: 100}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 5; i++ {
		if err := trafficStep(dev, tc, rng); err != nil {
			t.Fatalf("trafficStep failed: %v", err)
		}
	}

	pkts := dev.Snapshot(register.PktCount)
	bytes := dev.Snapshot(register.ByteCount)
	var total int64
	for f := range pkts {
		if bytes[f] != pkts[f]*100 {
			t.Fatalf("flow %d: %d bytes for %d packets", f, bytes[f], pkts[f])
		}
		if f >= 8 && pkts[f] != 0 {
			t.Fatalf("inactive flow %d has traffic", f)
		}
		total += pkts[f]
	}
	if total == 0 {
		t.Fatal("no traffic generated")
	}
}
