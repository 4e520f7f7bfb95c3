// devicesim serves an in-memory register file over the register gRPC service, so a
// controller can run without a forwarding device. It assigns flows round-robin to
// servers and grows their packet and byte counters at a configurable rate.
package main

import (
	"context"
	"math/rand"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/xiaonanln/stam/register"
	"github.com/xiaonanln/stam/util/logger"
)

var log = logger.NewLogger("devicesim")

type trafficConfig struct {
	flows      uint32
	servers    uint32
	maxPackets int64
	packetSize int64
}

func main() {
	var (
		listenAddr = pflag.String("listen", "127.0.0.1:50051", "register service listen address")
		maxFlows   = pflag.Uint32("max-flows", register.MaxFlows, "flow bank capacity")
		maxServers = pflag.Uint32("max-servers", register.MaxServers, "server bank capacity")
		flows      = pflag.Uint32("flows", 32, "number of active flows")
		servers    = pflag.Uint32("servers", 4, "number of active servers")
		tick       = pflag.Duration("tick", time.Second, "traffic update period")
		seed       = pflag.Int64("seed", 1, "traffic random seed")
	)
	pflag.Parse()

	dev := register.NewMemoryDevice("devicesim", register.NewLayout(*maxFlows, *maxServers))
	tc := trafficConfig{flows: min(*flows, *maxFlows), servers: min(*servers, *maxServers), maxPackets: 50, packetSize: 1000}
	if err := assignFlows(dev, tc); err != nil {
		log.Fatalf("Failed to assign flows: %v", err)
	}

	lis, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", *listenAddr, err)
	}
	s := grpc.NewServer()
	register.RegisterDeviceService(s, dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go generateTraffic(ctx, dev, tc, *tick, rand.New(rand.NewSource(*seed)))
	go func() {
		<-ctx.Done()
		log.Infof("Stopping register service")
		s.GracefulStop()
	}()

	log.Infof("Register service for %d flows on %d servers listening on %s", tc.flows, tc.servers, lis.Addr())
	if err := s.Serve(lis); err != nil {
		log.Errorf("Register service error: %v", err)
	}
}

// assignFlows maps flow i to server i mod servers.
func assignFlows(dev *register.MemoryDevice, tc trafficConfig) error {
	if tc.servers == 0 {
		return nil
	}
	for f := uint32(0); f < tc.flows; f++ {
		if err := dev.Set(register.FlowToServer, f, register.EncodeServer(int(f%tc.servers))); err != nil {
			return err
		}
	}
	for srv := uint32(0); srv < tc.servers; srv++ {
		if err := dev.Set(register.ServerWeights, srv, 10); err != nil {
			return err
		}
	}
	return nil
}

// trafficStep adds a random number of packets to every active flow.
func trafficStep(dev *register.MemoryDevice, tc trafficConfig, rng *rand.Rand) error {
	for f := uint32(0); f < tc.flows; f++ {
		pkts := rng.Int63n(tc.maxPackets + 1)
		if pkts == 0 {
			continue
		}
		if err := dev.Add(register.PktCount, f, pkts); err != nil {
			return err
		}
		if err := dev.Add(register.ByteCount, f, pkts*tc.packetSize); err != nil {
			return err
		}
	}
	return nil
}

func generateTraffic(ctx context.Context, dev *register.MemoryDevice, tc trafficConfig, tick time.Duration, rng *rand.Rand) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := trafficStep(dev, tc, rng); err != nil {
				log.Warnf("Traffic update failed: %v", err)
			}
		}
	}
}
