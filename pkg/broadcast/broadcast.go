// Package broadcast defines the pluggable transaction-broadcast
// capability and its failure taxonomy, plus a default HTTP-based
// implementation. Grounded on the bitcoinecho-node teacher's p2p.go (the
// one place the teacher talks to the outside network) for its "small
// capability interface swapped in at construction" shape, since the
// teacher's own gossip-relay protocol is out of this library's scope
// (spec.md Non-goals: "network broadcasters ... consumed via the
// Broadcaster interface, never implemented here" beyond this one HTTP
// default).
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/tx"
)

// FailureCode tags a broadcast rejection (spec.md §4.11).
type FailureCode string

const (
	RejectedByNetwork  FailureCode = "REJECTED_BY_NETWORK"
	DoubleSpend        FailureCode = "DOUBLE_SPEND"
	InvalidTransaction FailureCode = "INVALID_TRANSACTION"
	ServiceUnavailable FailureCode = "SERVICE_UNAVAILABLE"
	UnknownFailure     FailureCode = "UNKNOWN"
)

// Result is the sum type a Broadcaster returns: exactly one of Success or
// Failure is populated.
type Result struct {
	Success bool

	TXID    hash.Hash256 // valid iff Success
	Message string       // valid iff Success

	Code        FailureCode // valid iff !Success
	Description string      // valid iff !Success
}

// Broadcaster is the capability a Transaction's broadcast() invokes
// (spec.md §4.11).
type Broadcaster interface {
	Broadcast(ctx context.Context, t *tx.Transaction) (Result, error)
}

// HTTPBroadcaster is the default Broadcaster: it POSTs the raw
// transaction hex to a single well-known service and maps its JSON
// response onto the failure-code table.
type HTTPBroadcaster struct {
	Endpoint string
	Client   *http.Client
	logger   *zap.Logger
}

// NewHTTPBroadcaster returns a broadcaster posting to endpoint with a
// 30-second default timeout. A nil logger falls back to zap.NewNop()
// (spec.md §5: the core must stay silent unless a caller opts in).
func NewHTTPBroadcaster(endpoint string, logger *zap.Logger) *HTTPBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBroadcaster{Endpoint: endpoint, Client: &http.Client{Timeout: 30 * time.Second}, logger: logger}
}

// DefaultEndpoint is the single well-known broadcast service used when a
// caller doesn't supply its own Broadcaster (spec.md §4.11: "A
// transaction's broadcast() without an argument uses a default").
const DefaultEndpoint = "https://api.taal.com/arc/v1/tx"

// Default returns a fresh HTTPBroadcaster pointed at DefaultEndpoint.
// There is no package-level shared instance — every caller constructs
// its own, matching the "no process-wide mutable state" rule applied
// elsewhere in this module.
func Default() *HTTPBroadcaster {
	return NewHTTPBroadcaster(DefaultEndpoint, nil)
}

type broadcastRequest struct {
	RawTx string `json:"rawTx"`
}

type broadcastResponse struct {
	TXID    string `json:"txid"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Broadcast implements Broadcaster. Each call sets a fresh UUID in the
// X-Idempotency-Key header, so a repeated call for the same transaction
// carries a different key.
func (b *HTTPBroadcaster) Broadcast(ctx context.Context, t *tx.Transaction) (Result, error) {
	b.logger.Debug("broadcasting transaction", zap.String("txid", t.TXID().String()), zap.String("endpoint", b.Endpoint))
	body, err := json.Marshal(broadcastRequest{RawTx: hexEncode(t.Serialize())})
	if err != nil {
		return Result{}, errors.Wrap(err, "broadcast: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, errors.Wrap(err, "broadcast: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	resp, err := b.Client.Do(req)
	if err != nil {
		b.logger.Warn("broadcast request failed", zap.Error(err))
		return Result{Code: ServiceUnavailable, Description: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Code: ServiceUnavailable, Description: "reading response: " + err.Error()}, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out broadcastResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return Result{Code: UnknownFailure, Description: "malformed success response"}, nil
		}
		txid, err := hash.FromHexString(out.TXID)
		if err != nil {
			return Result{Code: UnknownFailure, Description: "malformed txid in response"}, nil
		}
		b.logger.Info("broadcast accepted", zap.String("txid", txid.String()))
		return Result{Success: true, TXID: txid, Message: out.Message}, nil
	}

	var out broadcastResponse
	_ = json.Unmarshal(raw, &out)
	code := mapStatusCode(resp.StatusCode, out.Code)
	b.logger.Warn("broadcast rejected", zap.String("code", string(code)), zap.Int("status", resp.StatusCode))
	return Result{Code: code, Description: out.Message}, nil
}

// mapStatusCode maps an HTTP status + service-reported code onto the
// failure taxonomy (spec.md §4.11: "the default broadcaster parses the
// service's JSON and maps status-codes onto this table").
func mapStatusCode(status int, serviceCode string) FailureCode {
	switch serviceCode {
	case "double-spend", "conflicting-tx":
		return DoubleSpend
	case "invalid-tx", "malformed":
		return InvalidTransaction
	}
	switch {
	case status == http.StatusConflict:
		return DoubleSpend
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return InvalidTransaction
	case status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return ServiceUnavailable
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return RejectedByNetwork
	default:
		return UnknownFailure
	}
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}
