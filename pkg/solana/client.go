package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"github.com/lendsdk/lendsdk/pkg/retry"
	"github.com/lendsdk/lendsdk/pkg/retry/backoff"
)

const (
	// Reference: https://github.com/solana-labs/solana/blob/71e9958e061493d7545bd28d4ac7a85aaed6ffbb/client/src/rpc_custom_error.rs#L11
	rpcNodeUnhealthyCode = -32005

	// getMultipleAccounts accepts at most this many addresses per request.
	maxMultipleAccounts = 100
)

type Commitment struct {
	Commitment string `json:"commitment"`
}

var (
	CommitmentProcessed = Commitment{Commitment: "processed"}
	CommitmentConfirmed = Commitment{Commitment: "confirmed"}
	CommitmentFinalized = Commitment{Commitment: "finalized"}
)

var (
	ErrNoAccountInfo = errors.New("no account info")

	errRateLimited  = errors.New("rate limited")
	errServiceError = errors.New("service error")
)

// AccountInfo is the content of an account as served by a node.
type AccountInfo struct {
	Data       []byte
	Owner      ed25519.PublicKey
	Lamports   uint64
	Executable bool

	// Slot is the context slot the node served the account at.
	Slot uint64
}

// Client reads accounts over the Solana JSON RPC API.
//
// Reference: https://docs.solana.com/api/http
type Client interface {
	GetAccountInfo(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (AccountInfo, error)

	// GetMultipleAccounts returns one entry per requested account, nil for
	// accounts that do not exist.
	GetMultipleAccounts(ctx context.Context, accounts []ed25519.PublicKey, commitment Commitment) ([]*AccountInfo, error)

	// GetProgramAccounts returns every account owned by program that matches
	// all of the filters.
	GetProgramAccounts(ctx context.Context, program ed25519.PublicKey, commitment Commitment, filters ...ProgramAccountsFilter) ([]ProgramAccount, error)
}

// ProgramAccountsFilter narrows a getProgramAccounts scan. Exactly one of
// Memcmp and DataSize is set.
type ProgramAccountsFilter struct {
	Memcmp   *MemcmpFilter `json:"memcmp,omitempty"`
	DataSize *uint64       `json:"dataSize,omitempty"`
}

// MemcmpFilter matches accounts holding Bytes at Offset.
type MemcmpFilter struct {
	Offset uint64 `json:"offset"`

	// Bytes is base58 encoded.
	Bytes string `json:"bytes"`
}

// Memcmp matches accounts whose data holds b at offset.
func Memcmp(offset uint64, b []byte) ProgramAccountsFilter {
	return ProgramAccountsFilter{Memcmp: &MemcmpFilter{Offset: offset, Bytes: base58.Encode(b)}}
}

// DataSize matches accounts whose data is exactly size bytes.
func DataSize(size uint64) ProgramAccountsFilter {
	return ProgramAccountsFilter{DataSize: &size}
}

// ProgramAccount is one account returned by a program scan.
type ProgramAccount struct {
	Address ed25519.PublicKey
	Info    AccountInfo
}

type client struct {
	log     *logrus.Entry
	rpc     jsonrpc.RPCClient
	retrier retry.Retrier
}

// New returns a client for the endpoint.
func New(endpoint string) Client {
	return NewWithRPCOptions(endpoint, nil)
}

// NewWithRPCOptions returns a client using the given transport options.
func NewWithRPCOptions(endpoint string, opts *jsonrpc.RPCClientOpts) Client {
	return newClient(jsonrpc.NewClientWithOpts(endpoint, opts))
}

func newClient(rpc jsonrpc.RPCClient) *client {
	return &client{
		log: logrus.StandardLogger().WithField("type", "solana/client"),
		rpc: rpc,
		retrier: retry.NewRetrier(
			retry.RetriableErrors(errRateLimited, errServiceError),
			retry.Limit(3),
			retry.Backoff(backoff.BinaryExponential(250*time.Millisecond).Cap(2*time.Second).Jitter(0.1)),
		),
	}
}

func (c *client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	_, err := c.retrier.Retry(ctx, func(context.Context) error {
		err := c.rpc.CallFor(out, method, params...)
		if err == nil {
			return nil
		}
		return c.classify(method, err)
	})
	return err
}

// classify marks transient node failures so that they are retried.
func (c *client) classify(method string, err error) error {
	rpcErr, ok := err.(*jsonrpc.RPCError)
	if !ok {
		return err
	}

	switch {
	case rpcErr.Code == 429:
		c.log.WithField("method", method).Warn("rate limited")
		return errors.Wrap(errRateLimited, rpcErr.Message)
	case rpcErr.Code >= 500, rpcErr.Code == rpcNodeUnhealthyCode:
		return errors.Wrap(errServiceError, rpcErr.Message)
	default:
		return err
	}
}

type accountConfig struct {
	Commitment string `json:"commitment"`
	Encoding   string `json:"encoding"`
}

type programAccountsConfig struct {
	Commitment  string                  `json:"commitment"`
	Encoding    string                  `json:"encoding"`
	WithContext bool                    `json:"withContext"`
	Filters     []ProgramAccountsFilter `json:"filters,omitempty"`
}

type rpcAccount struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
}

func (a *rpcAccount) decode(slot uint64) (*AccountInfo, error) {
	owner, err := base58.Decode(a.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base58 encoded owner")
	}
	if len(a.Data) == 0 {
		return nil, errors.New("missing account data")
	}
	data, err := base64.StdEncoding.DecodeString(a.Data[0])
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 encoded data")
	}

	return &AccountInfo{
		Data:       data,
		Owner:      owner,
		Lamports:   a.Lamports,
		Executable: a.Executable,
		Slot:       slot,
	}, nil
}

func (c *client) GetAccountInfo(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (AccountInfo, error) {
	var resp struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *rpcAccount `json:"value"`
	}

	config := accountConfig{Commitment: commitment.Commitment, Encoding: "base64"}
	if err := c.call(ctx, &resp, "getAccountInfo", base58.Encode(account), config); err != nil {
		return AccountInfo{}, errors.Wrap(err, "getAccountInfo() failed to send request")
	}
	if resp.Value == nil {
		return AccountInfo{}, ErrNoAccountInfo
	}

	info, err := resp.Value.decode(resp.Context.Slot)
	if err != nil {
		return AccountInfo{}, err
	}
	return *info, nil
}

func (c *client) GetMultipleAccounts(ctx context.Context, accounts []ed25519.PublicKey, commitment Commitment) ([]*AccountInfo, error) {
	infos := make([]*AccountInfo, 0, len(accounts))
	config := accountConfig{Commitment: commitment.Commitment, Encoding: "base64"}

	for start := 0; start < len(accounts); start += maxMultipleAccounts {
		end := start + maxMultipleAccounts
		if end > len(accounts) {
			end = len(accounts)
		}

		addresses := make([]string, 0, end-start)
		for _, account := range accounts[start:end] {
			addresses = append(addresses, base58.Encode(account))
		}

		var resp struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value []*rpcAccount `json:"value"`
		}
		if err := c.call(ctx, &resp, "getMultipleAccounts", addresses, config); err != nil {
			return nil, errors.Wrap(err, "getMultipleAccounts() failed to send request")
		}
		if len(resp.Value) != len(addresses) {
			return nil, errors.Errorf("getMultipleAccounts() returned %d accounts for %d addresses", len(resp.Value), len(addresses))
		}

		for i, value := range resp.Value {
			if value == nil {
				infos = append(infos, nil)
				continue
			}
			info, err := value.decode(resp.Context.Slot)
			if err != nil {
				return nil, errors.Wrapf(err, "account %s", addresses[i])
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (c *client) GetProgramAccounts(ctx context.Context, program ed25519.PublicKey, commitment Commitment, filters ...ProgramAccountsFilter) ([]ProgramAccount, error) {
	for _, filter := range filters {
		if (filter.Memcmp == nil) == (filter.DataSize == nil) {
			return nil, errors.New("filter must set exactly one of memcmp and dataSize")
		}
	}

	var resp struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value []struct {
			Pubkey  string      `json:"pubkey"`
			Account *rpcAccount `json:"account"`
		} `json:"value"`
	}

	config := programAccountsConfig{
		Commitment:  commitment.Commitment,
		Encoding:    "base64",
		WithContext: true,
		Filters:     filters,
	}
	if err := c.call(ctx, &resp, "getProgramAccounts", base58.Encode(program), config); err != nil {
		return nil, errors.Wrap(err, "getProgramAccounts() failed to send request")
	}

	accounts := make([]ProgramAccount, 0, len(resp.Value))
	for _, value := range resp.Value {
		address, err := base58.Decode(value.Pubkey)
		if err != nil || len(address) != ed25519.PublicKeySize {
			return nil, errors.Errorf("getProgramAccounts() returned invalid pubkey %q", value.Pubkey)
		}
		if value.Account == nil {
			return nil, errors.Errorf("getProgramAccounts() returned no account for %s", value.Pubkey)
		}

		info, err := value.Account.decode(resp.Context.Slot)
		if err != nil {
			return nil, errors.Wrapf(err, "account %s", value.Pubkey)
		}
		accounts = append(accounts, ProgramAccount{Address: address, Info: *info})
	}

	c.log.WithFields(logrus.Fields{
		"method":   "GetProgramAccounts",
		"program":  base58.Encode(program),
		"accounts": len(accounts),
	}).Debug("scanned program accounts")

	return accounts, nil
}
