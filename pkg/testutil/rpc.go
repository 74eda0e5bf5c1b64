package testutil

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

// ProgramNode is a JSON RPC node serving getProgramAccounts for one program
// from accounts held in memory. Filters are applied the way a real node
// applies them.
type ProgramNode struct {
	URL string

	program ed25519.PublicKey
	slot    uint64
	calls   atomic.Int32

	mu       sync.Mutex
	accounts map[string][]byte
	fail     bool
}

type programNodeFilter struct {
	Memcmp *struct {
		Offset int    `json:"offset"`
		Bytes  string `json:"bytes"`
	} `json:"memcmp"`
	DataSize *int `json:"dataSize"`
}

func NewProgramNode(t *testing.T, program ed25519.PublicKey, slot uint64) *ProgramNode {
	node := &ProgramNode{
		program:  program,
		slot:     slot,
		accounts: make(map[string][]byte),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		node.calls.Add(1)

		var req struct {
			ID     int               `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getProgramAccounts", req.Method)
		require.Len(t, req.Params, 2)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if node.failing() {
			resp["error"] = map[string]interface{}{"code": -32602, "message": "scan disabled"}
		} else {
			var config struct {
				Filters []programNodeFilter `json:"filters"`
			}
			require.NoError(t, json.Unmarshal(req.Params[1], &config))
			resp["result"] = map[string]interface{}{
				"context": map[string]interface{}{"slot": node.slot},
				"value":   node.scan(t, config.Filters),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)

	node.URL = server.URL
	return node
}

// Put stores account data under address.
func (n *ProgramNode) Put(address ed25519.PublicKey, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[base58.Encode(address)] = append([]byte(nil), data...)
}

// FailWith makes every request return an RPC error.
func (n *ProgramNode) FailWith(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = fail
}

func (n *ProgramNode) Calls() int {
	return int(n.calls.Load())
}

func (n *ProgramNode) failing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fail
}

func (n *ProgramNode) scan(t *testing.T, filters []programNodeFilter) []interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	values := []interface{}{}
	for address, data := range n.accounts {
		if !matchesAll(t, data, filters) {
			continue
		}
		values = append(values, map[string]interface{}{
			"pubkey": address,
			"account": map[string]interface{}{
				"lamports":   1,
				"owner":      base58.Encode(n.program),
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
			},
		})
	}
	return values
}

func matchesAll(t *testing.T, data []byte, filters []programNodeFilter) bool {
	for _, filter := range filters {
		if filter.DataSize != nil && len(data) != *filter.DataSize {
			return false
		}
		if filter.Memcmp != nil {
			expected, err := base58.Decode(filter.Memcmp.Bytes)
			require.NoError(t, err)

			end := filter.Memcmp.Offset + len(expected)
			if end > len(data) || !bytes.Equal(data[filter.Memcmp.Offset:end], expected) {
				return false
			}
		}
	}
	return true
}

// MatchesProgramFilters reports whether a node would return data for a scan
// with the given filters, passed as they are sent on the wire.
func MatchesProgramFilters(t *testing.T, data []byte, filters interface{}) bool {
	encoded, err := json.Marshal(filters)
	require.NoError(t, err)

	var parsed []programNodeFilter
	require.NoError(t, json.Unmarshal(encoded, &parsed))
	return matchesAll(t, data, parsed)
}
