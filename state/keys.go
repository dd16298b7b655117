package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	accountPrefix     = []byte("phusd/state/account/")
	stakePrefix       = []byte("phusd/state/phlimbo/stake/")
	allowancePrefix   = []byte("phusd/state/phlimbo/allowance/")
	tokenConfigPrefix    = []byte("phusd/state/yield/token/")
	strategyPrefix       = []byte("phusd/state/yield/strategy/")
	principalPrefix      = []byte("phusd/state/yield/principal/")
	principalIndexPrefix = []byte("phusd/state/yield/principal-index/")
	savingsPrefix        = []byte("phusd/state/savings/")
	bookPrefix           = []byte("phusd/state/book/")

	rewardPoolKey    = ethcrypto.Keccak256([]byte("phusd/state/phlimbo/pool"))
	discountRateKey  = ethcrypto.Keccak256([]byte("phusd/state/yield/discount"))
	strategyIndexKey = ethcrypto.Keccak256([]byte("phusd/state/yield/strategy-index"))
	supplyKey        = ethcrypto.Keccak256([]byte("phusd/state/supply/phusd"))
	genesisKey       = ethcrypto.Keccak256([]byte("phusd/state/genesis"))
)

func accountKey(addr [20]byte) []byte {
	return append(append([]byte{}, accountPrefix...), addr[:]...)
}

func stakeKey(addr [20]byte) []byte {
	return append(append([]byte{}, stakePrefix...), addr[:]...)
}

func allowanceKey(addr [20]byte) []byte {
	return append(append([]byte{}, allowancePrefix...), addr[:]...)
}

func tokenConfigKey(token string) []byte {
	return append(append([]byte{}, tokenConfigPrefix...), []byte(token)...)
}

func strategyKey(strategy [20]byte) []byte {
	return append(append([]byte{}, strategyPrefix...), strategy[:]...)
}

func principalKey(strategy, account [20]byte) []byte {
	key := append(append([]byte{}, principalPrefix...), strategy[:]...)
	key = append(key, '/')
	return append(key, account[:]...)
}

func principalIndexKey(strategy [20]byte) []byte {
	return append(append([]byte{}, principalIndexPrefix...), strategy[:]...)
}

func savingsKey(addr [20]byte) []byte {
	return append(append([]byte{}, savingsPrefix...), addr[:]...)
}

func bookKey(token string, addr [20]byte) []byte {
	key := append(append([]byte{}, bookPrefix...), []byte(token)...)
	key = append(key, '/')
	return append(key, addr[:]...)
}
