package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"phusd/crypto"
)

var errInvalidAmount = errors.New("rpc: amount must be a positive decimal integer")

type addressRequest struct {
	Address string `json:"address"`
}

type amountRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type discountRequest struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
}

type tokenConfigRequest struct {
	Caller       string `json:"caller"`
	Token        string `json:"token"`
	Decimals     uint8  `json:"decimals"`
	ExchangeRate string `json:"exchangeRate"`
}

type tokenPauseRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

type emissionRequest struct {
	Caller          string `json:"caller"`
	PhusdPerSecond  string `json:"phusdPerSecond"`
	StablePerSecond string `json:"stablePerSecond"`
}

type fundRequest struct {
	Caller   string `json:"caller"`
	From     string `json:"from"`
	Strategy string `json:"strategy"`
	Amount   string `json:"amount"`
}

type modulePauseRequest struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
}

type claimResponse struct {
	Paid       string `json:"paid"`
	TotalYield string `json:"totalYield"`
	Strategies int    `json:"strategies"`
}

type rewardsResponse struct {
	Phusd  string `json:"phusd"`
	Stable string `json:"stable"`
}

type ratesResponse struct {
	PhusdPerSecond  string `json:"phusdPerSecond"`
	StablePerSecond string `json:"stablePerSecond"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type dashboardResponse struct {
	Address         string `json:"address"`
	BalancePHAME    string `json:"balancePHAME"`
	BalancePHUSD    string `json:"balancePHUSD"`
	BalanceUSDS     string `json:"balanceUSDS"`
	StakedAmount    string `json:"stakedAmount"`
	StakeAllowance  string `json:"stakeAllowance"`
	PendingPhusd    string `json:"pendingPhusd"`
	PendingStable   string `json:"pendingStable"`
	PhusdPerSecond  string `json:"phusdPerSecond"`
	StablePerSecond string `json:"stablePerSecond"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("rpc: decode request: %w", err)
	}
	return nil
}

func parseAddress(raw string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, fmt.Errorf("rpc: invalid address %q: %w", raw, err)
	}
	return addr.Array(), nil
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	return value, nil
}

func parseRate(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, errInvalidAmount
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func formatBig(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
