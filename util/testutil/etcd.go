package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdTestMutex ensures only one etcd integration test runs at a time across all packages.
var EtcdTestMutex sync.Mutex

// DefaultEtcdEndpoint is the etcd instance integration tests expect.
const DefaultEtcdEndpoint = "localhost:2379"

// ConnectEtcd returns a client to the local etcd, skipping the test when etcd is not
// reachable. Every key under prefix is deleted before the test and again on cleanup.
// ConnectEtcd holds EtcdTestMutex until the test ends.
func ConnectEtcd(t *testing.T, prefix string) *clientv3.Client {
	t.Helper()

	EtcdTestMutex.Lock()
	t.Cleanup(EtcdTestMutex.Unlock)

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{DefaultEtcdEndpoint},
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Skipf("Skipping test - etcd not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
		cli.Close()
		t.Skipf("Skipping test - etcd not available: %v", err)
		return nil
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
			t.Logf("Warning: failed to clean etcd prefix %s: %v", prefix, err)
		}
		cli.Close()
	})
	return cli
}
