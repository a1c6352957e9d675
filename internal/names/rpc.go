package names

import (
	"context"

	"hoodhub.chat/hub/internal/ledger"
)

// Caller performs one JSON-RPC call. *ledger.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

// RPCLookup does reverse name resolution through the ledger node's
// lookupAddress and getAvatar methods.
type RPCLookup struct {
	rpc Caller
}

// NewRPCLookup creates a Lookup over rpc.
func NewRPCLookup(rpc Caller) *RPCLookup {
	return &RPCLookup{rpc: rpc}
}

func (l *RPCLookup) LookupAddress(ctx context.Context, addr ledger.Address) (string, error) {
	var result struct {
		Name string `json:"name"`
	}
	if err := l.rpc.Call(ctx, "lookupAddress", map[string]string{"address": string(addr)}, &result); err != nil {
		return "", err
	}
	return result.Name, nil
}

func (l *RPCLookup) Avatar(ctx context.Context, name string) (string, error) {
	var result struct {
		URL string `json:"url"`
	}
	if err := l.rpc.Call(ctx, "getAvatar", map[string]string{"name": name}, &result); err != nil {
		return "", err
	}
	return result.URL, nil
}
