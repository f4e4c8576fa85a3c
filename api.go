package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API paths relative to the configured base URL.
const (
	pathPhase     = "phase"
	pathChallenge = "pow/challenge"
	pathVerify    = "pow/verify"
	pathMint      = "mint"
)

// Accepted aliases per logical response field, probed in order.
var (
	phaseFieldKeys     = []string{"phase", "mintPhase", "status"}
	mintTokenFieldKeys = []string{"mintToken", "token", "verifyToken"}
	txHashFieldKeys    = []string{"txHash", "transactionHash", "tx_hash"}
	tokenIDFieldKeys   = []string{"tokenId", "token_id"}
)

// Phase is the server-declared stage of the mint campaign. Unrecognised
// values are kept verbatim.
type Phase string

const (
	PhaseWhitelist Phase = "whitelist"
	PhasePublic    Phase = "public"
	PhaseClosed    Phase = "closed"
)

func (p Phase) known() bool {
	switch p {
	case PhaseWhitelist, PhasePublic, PhaseClosed:
		return true
	}
	return false
}

// Challenge is a PoW challenge as issued by the server.
type Challenge struct {
	ID         string
	Seed       string
	Difficulty uint
	Algorithm  string
	ExpiresAt  *time.Time
}

// Solution is a solved challenge. DigestHex is informational only; the server
// re-verifies the nonce.
type Solution struct {
	ChallengeID string
	Nonce       uint64
	DigestHex   string
}

// MintToken is the single-use credential returned by verify.
type MintToken string

// MintResult is the outcome of a successful mint call.
type MintResult struct {
	TxHash  string
	TokenID *uint64
	Raw     map[string]any
}

// whitelistProof carries the wallet signature required in the whitelist phase.
type whitelistProof struct {
	Signature string
	Address   string
}

// mintClient is a typed projection of the mint API over retryingTransport.
type mintClient struct {
	baseURL   string
	projectID string
	chainID   int64
	wallet    string
	t         *retryingTransport
	log       *logger
}

func newMintClient(cfg appConfig, wallet string, t *retryingTransport, log *logger) *mintClient {
	if log == nil {
		log = nopLogger()
	}
	return &mintClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		projectID: cfg.ProjectID,
		chainID:   cfg.ChainID,
		wallet:    wallet,
		t:         t,
		log:       log,
	}
}

func (c *mintClient) endpoint(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// phase fetches the current mint phase.
func (c *mintClient) phase(ctx context.Context) (Phase, error) {
	q := url.Values{}
	q.Set("projectId", c.projectID)
	q.Set("chainId", strconv.FormatInt(c.chainID, 10))

	data, err := c.t.request(ctx, http.MethodGet, c.endpoint(pathPhase), q, nil)
	if err != nil {
		return "", err
	}

	v, ok := firstPresent(data, phaseFieldKeys)
	if !ok {
		return "", &protocolError{Op: "phase", Field: strings.Join(phaseFieldKeys, "|"), Payload: data, Err: errMissingField}
	}
	return Phase(strings.ToLower(strings.TrimSpace(stringValue(v)))), nil
}

// challengeRequest is the body of POST /pow/challenge.
type challengeRequest struct {
	ProjectID     string `json:"projectId"`
	ChainID       int64  `json:"chainId"`
	WalletAddress string `json:"walletAddress"`
}

// challenge requests a fresh PoW challenge.
func (c *mintClient) challenge(ctx context.Context) (Challenge, error) {
	body := challengeRequest{ProjectID: c.projectID, ChainID: c.chainID, WalletAddress: c.wallet}
	data, err := c.t.request(ctx, http.MethodPost, c.endpoint(pathChallenge), nil, body)
	if err != nil {
		return Challenge{}, err
	}
	return parseChallenge(data)
}

func parseChallenge(data map[string]any) (Challenge, error) {
	missing := func(field string) error {
		return &protocolError{Op: "challenge", Field: field, Payload: data, Err: errMissingField}
	}

	id, ok := data["challengeId"]
	if !ok || id == nil {
		return Challenge{}, missing("challengeId")
	}
	seed, ok := data["challenge"]
	if !ok || seed == nil {
		return Challenge{}, missing("challenge")
	}
	rawDiff, ok := data["difficulty"]
	if !ok || rawDiff == nil {
		return Challenge{}, missing("difficulty")
	}
	diff, err := uintValue(rawDiff)
	if err != nil {
		return Challenge{}, &protocolError{Op: "challenge", Field: "difficulty", Payload: data, Err: fmt.Errorf("%w: %v", errInvalidDifficulty, err)}
	}

	algo := algorithmSHA256
	if v, ok := data["algorithm"]; ok && v != nil {
		algo = strings.ToLower(strings.TrimSpace(stringValue(v)))
	}

	return Challenge{
		ID:         stringValue(id),
		Seed:       stringValue(seed),
		Difficulty: uint(diff),
		Algorithm:  algo,
		ExpiresAt:  timeValue(data["expiresAt"]),
	}, nil
}

// verifyRequest is the body of POST /pow/verify.
type verifyRequest struct {
	ChallengeID   string `json:"challengeId"`
	Nonce         uint64 `json:"nonce"`
	WalletAddress string `json:"walletAddress"`
	ProjectID     string `json:"projectId"`
	ChainID       int64  `json:"chainId"`
}

// verify exchanges a solution for a mint token.
func (c *mintClient) verify(ctx context.Context, sol Solution) (MintToken, error) {
	body := verifyRequest{
		ChallengeID:   sol.ChallengeID,
		Nonce:         sol.Nonce,
		WalletAddress: c.wallet,
		ProjectID:     c.projectID,
		ChainID:       c.chainID,
	}
	data, err := c.t.request(ctx, http.MethodPost, c.endpoint(pathVerify), nil, body)
	if err != nil {
		return "", err
	}

	v, ok := firstPresent(data, mintTokenFieldKeys)
	if !ok {
		return "", &protocolError{Op: "verify", Field: strings.Join(mintTokenFieldKeys, "|"), Payload: data, Err: errMissingField}
	}
	return MintToken(stringValue(v)), nil
}

// mintRequest is the body of POST /mint.
type mintRequest struct {
	ProjectID          string `json:"projectId"`
	ChainID            int64  `json:"chainId"`
	WalletAddress      string `json:"walletAddress"`
	MintToken          string `json:"mintToken"`
	WhitelistSignature string `json:"whitelistSignature,omitempty"`
	WhitelistAddress   string `json:"whitelistAddress,omitempty"`
}

// mint submits the final mint request. In the whitelist phase proof must carry
// both a signature and the signer address; nothing is sent otherwise. In any
// other phase proof is ignored.
func (c *mintClient) mint(ctx context.Context, token MintToken, phase Phase, proof *whitelistProof) (*MintResult, error) {
	body := mintRequest{
		ProjectID:     c.projectID,
		ChainID:       c.chainID,
		WalletAddress: c.wallet,
		MintToken:     string(token),
	}
	if phase == PhaseWhitelist {
		if proof == nil || proof.Signature == "" || proof.Address == "" {
			return nil, &protocolError{Op: "mint", Err: errWhitelistProofRequired}
		}
		body.WhitelistSignature = proof.Signature
		body.WhitelistAddress = proof.Address
	}

	data, err := c.t.request(ctx, http.MethodPost, c.endpoint(pathMint), nil, body)
	if err != nil {
		return nil, err
	}

	res := &MintResult{Raw: data}
	if v, ok := firstPresent(data, txHashFieldKeys); ok {
		res.TxHash = stringValue(v)
	}
	if v, ok := firstPresent(data, tokenIDFieldKeys); ok {
		if id, err := uintValue(v); err == nil {
			res.TokenID = &id
		} else {
			c.log.warnf("ignoring unparseable token id %v: %v", v, err)
		}
	}
	return res, nil
}

// firstPresent returns the value of the first key that is set to a truthy
// value: null, false, "" and numeric zero all fall through to the next key.
func firstPresent(data map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok && !falsy(v) {
			return v, true
		}
	}
	return nil, false
}

func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	case json.Number:
		f, err := x.Float64()
		return err == nil && f == 0
	case float64:
		return x == 0
	}
	return false
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// uintValue accepts JSON numbers (integral) and decimal strings.
func uintValue(v any) (uint64, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
		return 0, fmt.Errorf("not a non-negative integer: %q", s)
	}
	return uint64(f), nil
}

// timeValue parses an optional timestamp given as unix seconds, unix
// milliseconds or RFC 3339. Unparseable values are treated as absent.
func timeValue(v any) *time.Time {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
			return &ts
		}
	}
	n, err := uintValue(v)
	if err != nil || n == 0 {
		return nil
	}
	var ts time.Time
	if n > 1e12 {
		ts = time.UnixMilli(int64(n))
	} else {
		ts = time.Unix(int64(n), 0)
	}
	return &ts
}
