package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"phusd/crypto"
	nativecommon "phusd/native/common"
	"phusd/native/yield"
)

// Client drives a remote phusdd node's yield endpoints. It satisfies the
// Accumulator interface so the keeper loop is indifferent to whether the
// engine runs in-process or behind HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a node client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type clientClaimRequest struct {
	Address string `json:"address"`
}

type clientClaimResponse struct {
	Paid       string `json:"paid"`
	TotalYield string `json:"totalYield"`
	Strategies int    `json:"strategies"`
}

type clientAmountResponse struct {
	Amount string `json:"amount"`
}

type clientErrorResponse struct {
	Error string `json:"error"`
}

// CalculateClaimAmount fetches the node's current claim projection.
func (c *Client) CalculateClaimAmount() (*big.Int, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.baseURL+"/v1/yield/claimable", nil)
	if err != nil {
		return nil, err
	}
	var out clientAmountResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return parseClientAmount(out.Amount)
}

// Claim asks the node to settle all eligible strategies for the claimer.
func (c *Client) Claim(caller [20]byte) (*yield.ClaimResult, error) {
	address := crypto.MustNewAddress(crypto.PHPrefix, caller[:]).String()
	body, err := json.Marshal(clientClaimRequest{Address: address})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.baseURL+"/v1/yield/claim", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out clientClaimResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	paid, err := parseClientAmount(out.Paid)
	if err != nil {
		return nil, err
	}
	total, err := parseClientAmount(out.TotalYield)
	if err != nil {
		return nil, err
	}
	return &yield.ClaimResult{
		Claimer:       caller,
		Paid:          paid,
		TotalYield:    total,
		StrategyCount: out.Strategies,
	}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("keeper: node request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("keeper: read node response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return translateStatus(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("keeper: decode node response: %w", err)
	}
	return nil
}

// translateStatus maps the node's error statuses back onto the sentinel
// errors the keeper loop branches on.
func translateStatus(status int, payload []byte) error {
	var detail clientErrorResponse
	_ = json.Unmarshal(payload, &detail)
	message := strings.TrimSpace(detail.Error)
	switch {
	case status == http.StatusServiceUnavailable:
		return nativecommon.ErrModulePaused
	case status == http.StatusConflict && strings.Contains(message, "nothing to claim"):
		return yield.ErrNoYield
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return fmt.Errorf("keeper: node returned %d: %s", status, message)
}

func parseClientAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("keeper: malformed amount %q", raw)
	}
	return value, nil
}
