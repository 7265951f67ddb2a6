// Package http implements provider.Provider over a node's JSON-RPC 2.0
// endpoint, grounded on light/provider/http.http for the provider shape and
// rpc/jsonrpc/client/decode.go for the request/response envelope, but
// hand-rolled with encoding/json + net/http rather than the teacher's
// amino/websocket-capable rpchttp.HTTP client: the daemon only ever needs
// three unary calls (status, commit, validators) plus evidence submission,
// never subscriptions.
package http

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/lightanchor/anchord/light/provider"
	"github.com/lightanchor/anchord/model"
)

// This is very brittle: CometBFT/Tendermint nodes report an unavailable
// height as a plain-text RPC error message rather than a distinguishable
// error code, so this module (like the teacher's own light/provider/http)
// has to pattern-match it.
var regexpHeightTooHigh = regexp.MustCompile(`height \d+ must be less than or equal to`)
var regexpHeightNotAvailable = regexp.MustCompile(`height \d+ is not available|is not available, lowest height is`)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s (%s)", e.Code, e.Message, e.Data)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type wireValidator struct {
	PubKey      []byte `json:"pub_key"`
	VotingPower int64  `json:"voting_power"`
}

type wireCommitSig struct {
	ValidatorAddress string `json:"validator_address"`
	Signature        []byte `json:"signature"`
}

type wireHeader struct {
	ChainID            string    `json:"chain_id"`
	Height             int64     `json:"height"`
	Time               time.Time `json:"time"`
	ValidatorsHash     []byte    `json:"validators_hash"`
	NextValidatorsHash []byte    `json:"next_validators_hash"`
}

type wireCommit struct {
	Height     int64           `json:"height"`
	HeaderHash []byte          `json:"header_hash"`
	Signatures []wireCommitSig `json:"signatures"`
}

type commitResult struct {
	Header wireHeader `json:"header"`
	Commit wireCommit `json:"commit"`
}

type validatorsResult struct {
	Validators []wireValidator `json:"validators"`
}

type statusResult struct {
	LatestHeight int64 `json:"latest_block_height"`
}

type wireEvidence struct {
	ConflictingBlockHeight int64     `json:"conflicting_block_height"`
	TrustedBlockHeight     int64     `json:"trusted_block_height"`
	CommonHeight           int64     `json:"common_height"`
	Timestamp              time.Time `json:"timestamp"`
	TotalVotingPower       int64     `json:"total_voting_power"`
}

// httpProvider is a provider.Provider backed by a single node's JSON-RPC API.
type httpProvider struct {
	chainID string
	remote  string
	client  *http.Client
	reqID   int
}

// New creates an HTTP provider. If remote has no scheme, http:// is assumed.
func New(chainID, remote string, timeout time.Duration) (provider.Provider, error) {
	if !strings.Contains(remote, "://") {
		remote = "http://" + remote
	}
	return &httpProvider{
		chainID: chainID,
		remote:  remote,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *httpProvider) String() string { return fmt.Sprintf("http{%s}", p.remote) }

func (p *httpProvider) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	p.reqID++
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: p.reqID, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.remote, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.ErrNoResponse
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding RPC envelope: %w", err)
	}
	if rpcResp.Error != nil {
		switch {
		case regexpHeightTooHigh.MatchString(rpcResp.Error.Message):
			return provider.ErrHeightTooHigh
		case regexpHeightNotAvailable.MatchString(rpcResp.Error.Message), strings.Contains(rpcResp.Error.Message, "height"):
			return provider.ErrLightBlockNotFound
		}
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decoding RPC result: %w", err)
	}
	return nil
}

func (p *httpProvider) LatestHeight(ctx context.Context) (int64, error) {
	var res statusResult
	if err := p.call(ctx, "status", nil, &res); err != nil {
		return 0, err
	}
	return res.LatestHeight, nil
}

// LightBlock fetches the commit and validator set at height (0 for
// latest) and assembles a model.LightBlock, checking the chain ID along
// the way.
func (p *httpProvider) LightBlock(ctx context.Context, height int64) (*model.LightBlock, error) {
	if height < 0 {
		return nil, fmt.Errorf("expected height >= 0, got %d", height)
	}

	var heightParam interface{}
	if height > 0 {
		heightParam = map[string]int64{"height": height}
	}

	var cres commitResult
	if err := p.call(ctx, "commit", heightParam, &cres); err != nil {
		return nil, err
	}
	if cres.Header.ChainID != p.chainID {
		return nil, provider.ErrBadLightBlock{Reason: fmt.Errorf("chain ID mismatch: got %q, want %q", cres.Header.ChainID, p.chainID)}
	}

	signedHeight := heightParam
	if signedHeight == nil {
		signedHeight = map[string]int64{"height": cres.Header.Height}
	}
	var vres validatorsResult
	if err := p.call(ctx, "validators", signedHeight, &vres); err != nil {
		return nil, err
	}
	var nres validatorsResult
	if err := p.call(ctx, "validators", map[string]int64{"height": cres.Header.Height + 1}, &nres); err != nil {
		nres = vres // next validator set unknown yet (e.g. latest height); fall back to same set
	}

	header := &model.Header{
		ChainID:            cres.Header.ChainID,
		Height:             cres.Header.Height,
		Time:               cres.Header.Time,
		ValidatorsHash:     cres.Header.ValidatorsHash,
		NextValidatorsHash: cres.Header.NextValidatorsHash,
	}
	sigs := make([]model.CommitSig, len(cres.Commit.Signatures))
	for i, s := range cres.Commit.Signatures {
		sigs[i] = model.CommitSig{ValidatorAddress: s.ValidatorAddress, Signature: s.Signature}
	}
	commit := &model.Commit{Height: cres.Commit.Height, HeaderHash: cres.Commit.HeaderHash, Signatures: sigs}

	return &model.LightBlock{
		SignedHeader:     &model.SignedHeader{Header: header, Commit: commit},
		ValidatorSet:     toValidatorSet(vres.Validators),
		NextValidatorSet: toValidatorSet(nres.Validators),
	}, nil
}

func (p *httpProvider) ReportEvidence(ctx context.Context, ev *model.LightClientAttackEvidence) error {
	w := wireEvidence{
		ConflictingBlockHeight: ev.ConflictingBlock.Height,
		TrustedBlockHeight:     ev.TrustedBlock.Height,
		CommonHeight:           ev.CommonHeight,
		Timestamp:              ev.Timestamp,
		TotalVotingPower:       ev.TotalVotingPower,
	}
	return p.call(ctx, "broadcast_evidence", w, nil)
}

func toValidatorSet(wvs []wireValidator) *model.ValidatorSet {
	vals := make([]*model.Validator, len(wvs))
	for i, wv := range wvs {
		vals[i] = &model.Validator{PubKey: ed25519.PublicKey(wv.PubKey), VotingPower: wv.VotingPower}
	}
	return model.NewValidatorSet(vals)
}
