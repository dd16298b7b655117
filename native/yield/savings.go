package yield

import (
	"math/big"
	"time"
)

// CreditBook extends the token book with the ability to recognise new token
// units, used by sources whose positions grow over time.
type CreditBook interface {
	TokenBook
	CreditToken(token string, addr [20]byte, amount *big.Int) error
}

// SavingsStore persists a savings position so the balance and accrual clock
// survive process restarts.
type SavingsStore interface {
	SavingsPosition(addr [20]byte) (balance *big.Int, lastAccrual int64, ok bool, err error)
	PutSavingsPosition(addr [20]byte, balance *big.Int, lastAccrual int64) error
}

// SavingsSource is an in-ledger ExternalSource paying linear interest on its
// whole position. Interest accrues lazily: every touch first rolls the
// position forward to the current clock, crediting the earned units onto the
// source's custody account so they are transferable the moment they exist.
type SavingsSource struct {
	addr  [20]byte
	token string
	book  CreditBook

	// ratePerSecond is the 1e18-scaled interest per second on the balance.
	ratePerSecond *big.Int
	balance       *big.Int
	lastAccrual   int64
	store         SavingsStore
	now           func() time.Time
}

// NewSavingsSource wires a savings position for one token at the given
// per-second rate.
func NewSavingsSource(addr [20]byte, token string, ratePerSecond *big.Int, book CreditBook) *SavingsSource {
	if ratePerSecond == nil {
		ratePerSecond = big.NewInt(0)
	}
	return &SavingsSource{
		addr:          addr,
		token:         NormalizeToken(token),
		book:          book,
		ratePerSecond: new(big.Int).Set(ratePerSecond),
		balance:       big.NewInt(0),
		now:           time.Now,
	}
}

// SetClock overrides the time source for deterministic testing.
func (s *SavingsSource) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.now = now
}

// SetStore wires durable position records and restores the balance a previous
// process accrued under this source's address.
func (s *SavingsSource) SetStore(store SavingsStore) error {
	if store == nil {
		return nil
	}
	balance, lastAccrual, ok, err := store.SavingsPosition(s.addr)
	if err != nil {
		return err
	}
	s.store = store
	if ok {
		s.balance = new(big.Int).Set(balance)
		s.lastAccrual = lastAccrual
	}
	return nil
}

func (s *SavingsSource) persist() error {
	if s.store == nil {
		return nil
	}
	return s.store.PutSavingsPosition(s.addr, s.balance, s.lastAccrual)
}

// Address returns the custody account holding the position's backing tokens.
func (s *SavingsSource) Address() [20]byte { return s.addr }

func (s *SavingsSource) accrue() error {
	nowTs := s.now().UTC().Unix()
	if s.lastAccrual == 0 {
		s.lastAccrual = nowTs
		return s.persist()
	}
	if nowTs <= s.lastAccrual {
		return nil
	}
	elapsed := nowTs - s.lastAccrual
	s.lastAccrual = nowTs
	if s.balance.Sign() <= 0 || s.ratePerSecond.Sign() <= 0 {
		return s.persist()
	}
	interest := new(big.Int).Mul(s.balance, s.ratePerSecond)
	interest.Mul(interest, big.NewInt(elapsed))
	interest.Quo(interest, scaleOne)
	if interest.Sign() <= 0 {
		return s.persist()
	}
	s.balance.Add(s.balance, interest)
	if err := s.book.CreditToken(s.token, s.addr, interest); err != nil {
		return err
	}
	return s.persist()
}

// Deposit rolls interest forward and grows the position.
func (s *SavingsSource) Deposit(token string, amount *big.Int) error {
	if NormalizeToken(token) != s.token {
		return ErrInvalidToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := s.accrue(); err != nil {
		return err
	}
	s.balance.Add(s.balance, amount)
	return s.persist()
}

// Withdraw rolls interest forward and shrinks the position.
func (s *SavingsSource) Withdraw(token string, amount *big.Int) error {
	if NormalizeToken(token) != s.token {
		return ErrInvalidToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := s.accrue(); err != nil {
		return err
	}
	if s.balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	s.balance.Sub(s.balance, amount)
	return s.persist()
}

// Balance reports the position including interest up to the current clock.
func (s *SavingsSource) Balance(token string) (*big.Int, error) {
	if NormalizeToken(token) != s.token {
		return nil, ErrInvalidToken
	}
	if err := s.accrue(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(s.balance), nil
}
