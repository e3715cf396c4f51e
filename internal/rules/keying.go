package rules

import (
	"encoding/binary"
	"sort"
	"strconv"

	"lukechampine.com/blake3"

	"github.com/wisbric/siemgate/internal/store"
)

// groupKey extracts the KeySelector field values from an event as an
// ordered map, both for display (Alert.Key) and as the hash input that
// partitions per-rule state (spec §4.L: "keyed by hash(key_selector(event))").
func groupKey(selector []string, event store.Event) map[string]string {
	f := toFields(event)
	key := make(map[string]string, len(selector))
	for _, name := range selector {
		val, ok := f.lookup(name)
		if !ok || val == nil {
			key[name] = ""
			continue
		}
		key[name] = toStr(val)
	}
	return key
}

// hashKey produces a stable, order-independent 64-bit hash of a group key
// map, used as the key of each runner's per-group state map.
func hashKey(key map[string]string) uint64 {
	names := make([]string, 0, len(key))
	for k := range key {
		names = append(names, k)
	}
	sort.Strings(names)

	h := blake3.New(32, nil)
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write([]byte(key[n]))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// dedupHash computes blake3(rule_id, key, window_bucket) (spec §4.L).
func dedupHash(ruleID string, key map[string]string, windowBucket int64) string {
	names := make([]string, 0, len(key))
	for k := range key {
		names = append(names, k)
	}
	sort.Strings(names)

	h := blake3.New(32, nil)
	h.Write([]byte(ruleID))
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte(key[n]))
	}
	h.Write([]byte(strconv.FormatInt(windowBucket, 10)))
	return hexEncode(h.Sum(nil))
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}

// shardIndex maps a tenant to one of n shards, each owned by a single
// writer goroutine (spec §8: "Streaming rule state: sharded by
// hash(tenant_id) across N shards to avoid a central mutex").
func shardIndex(tenantID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := blake3.Sum256([]byte(tenantID))
	return int(binary.BigEndian.Uint64(h[:8]) % uint64(n))
}
