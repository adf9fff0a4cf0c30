// Package rpcclient talks JSON-RPC to a ledger node.
//
// The node speaks plain JSON-RPC 2.0 with positional params, so the
// transport is go-ethereum's generic rpc client. Every read returns
// freshly fetched state; nothing here caches.
package rpcclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mkarrer/swapdesk/internal/pubkey"
)

var (
	ErrConnect      = errors.New("rpcclient: connection failed")
	ErrNodeRejected = errors.New("rpcclient: node rejected request")
)

// Commitment is the confirmation level attached to queries.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// AccountInfo is the decoded value of a ledger account.
type AccountInfo struct {
	Lamports   uint64
	Owner      pubkey.PublicKey
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// Blockhash is a recent blockhash plus its expiry height.
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// SimulateResult is the outcome of a pre-flight simulation.
type SimulateResult struct {
	// Err is the node's structured error value, nil on success.
	Err           json.RawMessage
	Logs          []string
	UnitsConsumed uint64
}

// Failed reports whether the simulation hit a program or structural error.
func (r *SimulateResult) Failed() bool {
	return r != nil && len(r.Err) > 0 && string(r.Err) != "null"
}

// SignatureStatus is the confirmation state of a submitted transaction.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	ConfirmationStatus Commitment
	Err                json.RawMessage
}

// Confirmed reports whether the transaction reached at least the
// confirmed acknowledgment level.
func (s *SignatureStatus) Confirmed() bool {
	if s == nil {
		return false
	}
	return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
}

// Failed reports whether the ledger recorded the transaction as errored.
func (s *SignatureStatus) Failed() bool {
	return s != nil && len(s.Err) > 0 && string(s.Err) != "null"
}

// TransactionDetail is a confirmed transaction re-fetched for its log output.
type TransactionDetail struct {
	Slot      uint64
	BlockTime *int64
	Logs      []string
	Err       json.RawMessage
}

// ProgramAccount pairs an address with its account state.
type ProgramAccount struct {
	Address pubkey.PublicKey
	Account AccountInfo
}

// MemcmpFilter selects program accounts whose data matches bytes at an offset.
type MemcmpFilter struct {
	Offset int
	Bytes  []byte // compared raw; sent base58-encoded
}

// SendOptions tune transaction submission.
type SendOptions struct {
	SkipPreflight bool
	// MaxRetries bounds the node's own rebroadcast attempts. Best-effort
	// only; broadcast is never guaranteed delivery.
	MaxRetries int
}

// Client is the ledger node surface the orchestration layer consumes.
// Narrow on purpose so tests can stub it.
type Client interface {
	GetAccountInfo(ctx context.Context, addr pubkey.PublicKey) (*AccountInfo, error)
	GetBalance(ctx context.Context, addr pubkey.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataLen int) (uint64, error)
	SimulateTransaction(ctx context.Context, txBase64 string) (*SimulateResult, error)
	SendTransaction(ctx context.Context, txBase64 string, opts SendOptions) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
	GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error)
	GetProgramAccounts(ctx context.Context, program pubkey.PublicKey, filters []MemcmpFilter) ([]ProgramAccount, error)
	Close()
}

// NodeClient implements Client over a JSON-RPC HTTP endpoint.
type NodeClient struct {
	rpc        *rpc.Client
	commitment Commitment
}

var _ Client = (*NodeClient)(nil)

// Dial connects to a ledger node RPC endpoint.
func Dial(ctx context.Context, url string) (*NodeClient, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty RPC URL", ErrConnect)
	}
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return &NodeClient{rpc: c, commitment: CommitmentConfirmed}, nil
}

// SetCommitment changes the acknowledgment level attached to queries.
// Call before sharing the client; not safe concurrently with requests.
func (c *NodeClient) SetCommitment(level Commitment) {
	c.commitment = level
}

// Close releases the underlying connection.
func (c *NodeClient) Close() {
	c.rpc.Close()
}

// wire envelopes -------------------------------------------------------------

type valueEnvelope struct {
	Value json.RawMessage `json:"value"`
}

type accountWire struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Data       [2]string `json:"data"` // [payload, encoding]
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
}

func (w *accountWire) decode() (*AccountInfo, error) {
	owner, err := pubkey.Parse(w.Owner)
	if err != nil {
		return nil, fmt.Errorf("account owner: %w", err)
	}
	if w.Data[1] != "base64" {
		return nil, fmt.Errorf("%w: unexpected account encoding %q", ErrNodeRejected, w.Data[1])
	}
	data, err := base64.StdEncoding.DecodeString(w.Data[0])
	if err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}
	return &AccountInfo{
		Lamports:   w.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: w.Executable,
		RentEpoch:  w.RentEpoch,
	}, nil
}

// GetAccountInfo fetches an account. Returns (nil, nil) when the
// account does not exist; absence is state, not an error.
func (c *NodeClient) GetAccountInfo(ctx context.Context, addr pubkey.PublicKey) (*AccountInfo, error) {
	var env valueEnvelope
	params := map[string]any{"encoding": "base64", "commitment": c.commitment}
	if err := c.rpc.CallContext(ctx, &env, "getAccountInfo", addr.String(), params); err != nil {
		return nil, fmt.Errorf("getAccountInfo: %w", err)
	}
	if len(env.Value) == 0 || string(env.Value) == "null" {
		return nil, nil
	}
	var w accountWire
	if err := json.Unmarshal(env.Value, &w); err != nil {
		return nil, fmt.Errorf("getAccountInfo decode: %w", err)
	}
	return w.decode()
}

// GetBalance returns the lamport balance of an account (0 if absent).
func (c *NodeClient) GetBalance(ctx context.Context, addr pubkey.PublicKey) (uint64, error) {
	var env struct {
		Value uint64 `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &env, "getBalance", addr.String(), map[string]any{"commitment": c.commitment}); err != nil {
		return 0, fmt.Errorf("getBalance: %w", err)
	}
	return env.Value, nil
}

// GetLatestBlockhash fetches a recent blockhash for message compilation.
func (c *NodeClient) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	var env struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &env, "getLatestBlockhash", map[string]any{"commitment": c.commitment}); err != nil {
		return Blockhash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return Blockhash{Hash: env.Value.Blockhash, LastValidBlockHeight: env.Value.LastValidBlockHeight}, nil
}

// GetMinimumBalanceForRentExemption returns the lamports a new account
// of the given size must carry.
func (c *NodeClient) GetMinimumBalanceForRentExemption(ctx context.Context, dataLen int) (uint64, error) {
	var out uint64
	if err := c.rpc.CallContext(ctx, &out, "getMinimumBalanceForRentExemption", dataLen); err != nil {
		return 0, fmt.Errorf("getMinimumBalanceForRentExemption: %w", err)
	}
	return out, nil
}

// SimulateTransaction runs a pre-flight check without broadcasting.
func (c *NodeClient) SimulateTransaction(ctx context.Context, txBase64 string) (*SimulateResult, error) {
	var env struct {
		Value struct {
			Err           json.RawMessage `json:"err"`
			Logs          []string        `json:"logs"`
			UnitsConsumed uint64          `json:"unitsConsumed"`
		} `json:"value"`
	}
	params := map[string]any{"encoding": "base64", "commitment": c.commitment}
	if err := c.rpc.CallContext(ctx, &env, "simulateTransaction", txBase64, params); err != nil {
		return nil, fmt.Errorf("simulateTransaction: %w", err)
	}
	return &SimulateResult{
		Err:           env.Value.Err,
		Logs:          env.Value.Logs,
		UnitsConsumed: env.Value.UnitsConsumed,
	}, nil
}

// SendTransaction broadcasts a signed transaction and returns its signature.
func (c *NodeClient) SendTransaction(ctx context.Context, txBase64 string, opts SendOptions) (string, error) {
	params := map[string]any{
		"encoding":      "base64",
		"skipPreflight": opts.SkipPreflight,
	}
	if opts.MaxRetries > 0 {
		params["maxRetries"] = opts.MaxRetries
	}
	var sig string
	if err := c.rpc.CallContext(ctx, &sig, "sendTransaction", txBase64, params); err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	return sig, nil
}

// GetSignatureStatuses returns confirmation state for each signature,
// nil entries for unknown signatures.
func (c *NodeClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	var env struct {
		Value []*struct {
			Slot               uint64          `json:"slot"`
			Confirmations      *uint64         `json:"confirmations"`
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &env, "getSignatureStatuses", signatures); err != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}
	out := make([]*SignatureStatus, len(env.Value))
	for i, v := range env.Value {
		if v == nil {
			continue
		}
		out[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			ConfirmationStatus: Commitment(v.ConfirmationStatus),
			Err:                v.Err,
		}
	}
	return out, nil
}

// GetTransaction re-fetches a confirmed transaction for its log output.
// Returns (nil, nil) if the node has no record of the signature.
func (c *NodeClient) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	var raw json.RawMessage
	params := map[string]any{"encoding": "json", "commitment": c.commitment}
	if err := c.rpc.CallContext(ctx, &raw, "getTransaction", signature, params); err != nil {
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var w struct {
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
		Meta      struct {
			Err         json.RawMessage `json:"err"`
			LogMessages []string        `json:"logMessages"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("getTransaction decode: %w", err)
	}
	return &TransactionDetail{
		Slot:      w.Slot,
		BlockTime: w.BlockTime,
		Logs:      w.Meta.LogMessages,
		Err:       w.Meta.Err,
	}, nil
}

// GetProgramAccounts lists accounts owned by a program, optionally
// filtered by data prefix matches.
func (c *NodeClient) GetProgramAccounts(ctx context.Context, program pubkey.PublicKey, filters []MemcmpFilter) ([]ProgramAccount, error) {
	params := map[string]any{"encoding": "base64", "commitment": c.commitment}
	if len(filters) > 0 {
		fs := make([]map[string]any, 0, len(filters))
		for _, f := range filters {
			fs = append(fs, map[string]any{
				"memcmp": map[string]any{
					"offset": f.Offset,
					"bytes":  base58.Encode(f.Bytes),
				},
			})
		}
		params["filters"] = fs
	}
	var wire []struct {
		Pubkey  string      `json:"pubkey"`
		Account accountWire `json:"account"`
	}
	if err := c.rpc.CallContext(ctx, &wire, "getProgramAccounts", program.String(), params); err != nil {
		return nil, fmt.Errorf("getProgramAccounts: %w", err)
	}
	out := make([]ProgramAccount, 0, len(wire))
	for _, w := range wire {
		addr, err := pubkey.Parse(w.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("getProgramAccounts address: %w", err)
		}
		acct, err := w.Account.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, ProgramAccount{Address: addr, Account: *acct})
	}
	return out, nil
}
