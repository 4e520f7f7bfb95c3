package coordination

import (
	"context"
	"fmt"
	"path"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyTable resolves a controller id to its shared key.
type KeyTable interface {
	Lookup(id string) (key string, ok bool)
}

// StaticKeyTable is a KeyTable backed by a map, usually the shared_keys section of the config.
type StaticKeyTable map[string]string

// Lookup returns the key of id. Empty keys count as absent.
func (t StaticKeyTable) Lookup(id string) (string, bool) {
	k, ok := t[id]
	return k, ok && k != ""
}

// KeysPrefix returns the etcd prefix shared keys are stored under.
func KeysPrefix(prefix string) string {
	return path.Join(prefix, "keys") + "/"
}

// LoadEtcdKeyTable reads every <prefix>/keys/<id> entry once. Later changes in etcd
// are not observed; authentication is evaluated once per session.
func LoadEtcdKeyTable(ctx context.Context, client *clientv3.Client, prefix string) (StaticKeyTable, error) {
	keysPrefix := KeysPrefix(prefix)
	resp, err := client.Get(ctx, keysPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to load shared keys from etcd prefix %s: %w", keysPrefix, err)
	}

	table := make(StaticKeyTable, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), keysPrefix)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		table[id] = string(kv.Value)
	}
	return table, nil
}

// PutEtcdKey stores the shared key of id under prefix.
func PutEtcdKey(ctx context.Context, client *clientv3.Client, prefix, id, key string) error {
	if _, err := client.Put(ctx, KeysPrefix(prefix)+id, key); err != nil {
		return fmt.Errorf("failed to store shared key for %s: %w", id, err)
	}
	return nil
}
