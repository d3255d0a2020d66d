package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"eth-spike-alerts/internal/ratelimit"
)

const defaultEtherscanURL = "https://api.etherscan.io/v2/api"

// EtherscanOptions parameterise the Etherscan proxy data source.
type EtherscanOptions struct {
	BaseURL           string
	APIKey            string
	ChainID           int64
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Etherscan reads blocks through the Etherscan "proxy" module.
type Etherscan struct {
	opts     EtherscanOptions
	logger   zerolog.Logger
	client   *resty.Client
	endpoint string
	limiter  *ratelimit.Limiter
}

// NewEtherscan constructs an Etherscan data source.
func NewEtherscan(opts EtherscanOptions, logger zerolog.Logger) *Etherscan {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	endpoint := strings.TrimRight(opts.BaseURL, "/")
	if endpoint == "" {
		endpoint = defaultEtherscanURL
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "spikewatch/1.0"
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", ua)

	return &Etherscan{
		opts:     opts,
		logger:   logger.With().Str("component", "etherscan_source").Logger(),
		client:   client,
		endpoint: endpoint,
		limiter:  ratelimit.New(opts.RequestsPerSecond),
	}
}

// ChainTip returns the latest block number.
func (e *Etherscan) ChainTip(ctx context.Context) (uint64, error) {
	result, err := e.call(ctx, map[string]string{"action": "eth_blockNumber"})
	if err != nil {
		return 0, sourceError("etherscan", "eth_blockNumber", err)
	}

	var tip hexutil.Uint64
	if err := json.Unmarshal(result, &tip); err != nil {
		return 0, sourceError("etherscan", "eth_blockNumber", fmt.Errorf("decode block number %s: %w", truncate(result), err))
	}
	return uint64(tip), nil
}

// Block returns the transactions of the block at height.
func (e *Etherscan) Block(ctx context.Context, height uint64) ([]Transaction, error) {
	result, err := e.call(ctx, map[string]string{
		"action":  "eth_getBlockByNumber",
		"tag":     hexutil.EncodeUint64(height),
		"boolean": "true",
	})
	if err != nil {
		return nil, sourceError("etherscan", "eth_getBlockByNumber", err)
	}

	txs, err := decodeBlock(result, height)
	if err != nil {
		return nil, sourceError("etherscan", "eth_getBlockByNumber", err)
	}
	return txs, nil
}

func (e *Etherscan) call(ctx context.Context, params map[string]string) (json.RawMessage, error) {
	if e.opts.APIKey == "" {
		return nil, errors.New("etherscan api key not configured")
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := e.client.R().
		SetContext(ctx).
		SetQueryParam("module", "proxy").
		SetQueryParam("apikey", e.opts.APIKey).
		SetQueryParams(params)
	if e.opts.ChainID > 0 {
		req.SetQueryParam("chainid", strconv.FormatInt(e.opts.ChainID, 10))
	}

	resp, err := req.Get(e.endpoint)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, parseEtherscanHTTPError(resp.StatusCode(), resp.Body())
	}

	var env etherscanEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("decode etherscan response: %w", err)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("etherscan rpc error (%d): %s", env.Error.Code, env.Error.Message)
	}
	// Account-style failures ("NOTOK", rate limit, bad key) come back as status=0 with a text result.
	if env.Status == "0" {
		return nil, fmt.Errorf("etherscan error: %s: %s", env.Message, truncate(env.Result))
	}
	return env.Result, nil
}

type etherscanEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseEtherscanHTTPError(status int, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if body != "" {
		return fmt.Errorf("etherscan http error (%d): %s", status, truncate(payload))
	}
	return fmt.Errorf("etherscan http error (%d)", status)
}

func truncate(b []byte) string {
	const max = 200
	b = bytes.TrimSpace(b)
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

var _ DataSource = (*Etherscan)(nil)
