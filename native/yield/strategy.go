package yield

import (
	"math/big"

	nativecommon "phusd/native/common"
)

// TokenBook moves stable-token balances between ledger accounts. The state
// layer implements it; strategy adapters never touch accounts directly.
type TokenBook interface {
	TokenBalance(token string, addr [20]byte) (*big.Int, error)
	TokenTransfer(token string, from, to [20]byte, amount *big.Int) error
}

// PrincipalStore persists a strategy's principal ledger so a rebuilt adapter
// resumes from the recorded positions instead of forgetting its depositors.
type PrincipalStore interface {
	StrategyPrincipals(strategy [20]byte) (map[[20]byte]*big.Int, error)
	PutStrategyPrincipal(strategy, account [20]byte, amount *big.Int) error
}

// ExternalSource is the boundary to the external yield position a strategy
// forwards funds into. Balance reports the strategy's full holding including
// accrued yield; withdrawn funds land on the source's custody account in the
// token book.
type ExternalSource interface {
	Address() [20]byte
	Deposit(token string, amount *big.Int) error
	Withdraw(token string, amount *big.Int) error
	Balance(token string) (*big.Int, error)
}

// Strategy is the capability contract the accumulator programs against. All
// mutating calls carry the caller identity explicitly; implementations gate
// them on the operator or the single authorized client.
type Strategy interface {
	Address() [20]byte
	Token() string
	Deposit(caller [20]byte, token string, amount *big.Int, recipient [20]byte) error
	Withdraw(caller [20]byte, token string, amount *big.Int, recipient [20]byte) error
	WithdrawFrom(caller [20]byte, token string, client [20]byte, amount *big.Int, recipient [20]byte) error
	ReturnYield(caller [20]byte, token string, amount *big.Int, from [20]byte) error
	TotalWithdrawal(caller [20]byte, token string, client [20]byte, recipient [20]byte) (*big.Int, error)
	BalanceOf(token string, account [20]byte) (*big.Int, error)
	PrincipalOf(token string, account [20]byte) (*big.Int, error)
	TotalBalanceOf(token string, account [20]byte) (*big.Int, error)
	SetClient(caller, client [20]byte, authorized bool) error
	EmergencyWithdraw(caller [20]byte, amount *big.Int) error
}

// SourceStrategy adapts one ExternalSource for one underlying token. It
// tracks principal per depositor; the yield component of a position is the
// depositor's pro-rata share of whatever the source reports above total
// principal, floored.
type SourceStrategy struct {
	addr     [20]byte
	operator [20]byte
	token    string
	source   ExternalSource
	book     TokenBook

	client         [20]byte
	clientSet      bool
	principals     map[[20]byte]*big.Int
	totalPrincipal *big.Int
	records        PrincipalStore
	guard          nativecommon.ReentrancyGuard
}

// NewSourceStrategy wires a strategy adapter for the given underlying token.
func NewSourceStrategy(addr, operator [20]byte, token string, source ExternalSource, book TokenBook) *SourceStrategy {
	return &SourceStrategy{
		addr:           addr,
		operator:       operator,
		token:          NormalizeToken(token),
		source:         source,
		book:           book,
		principals:     make(map[[20]byte]*big.Int),
		totalPrincipal: big.NewInt(0),
	}
}

// Address returns the strategy identifier used by the accumulator registry.
func (s *SourceStrategy) Address() [20]byte { return s.addr }

// Token returns the underlying token this strategy accepts.
func (s *SourceStrategy) Token() string { return s.token }

// SetClient grants or revokes the single client slot. Only the operator may
// rotate it.
func (s *SourceStrategy) SetClient(caller, client [20]byte, authorized bool) error {
	if caller != s.operator {
		return ErrUnauthorized
	}
	if client == ([20]byte{}) {
		return ErrZeroAddress
	}
	if authorized {
		s.client = client
		s.clientSet = true
		return nil
	}
	if !s.clientSet || s.client != client {
		return ErrNoClient
	}
	s.client = [20]byte{}
	s.clientSet = false
	return nil
}

// SetPrincipalStore wires durable principal records and restores whatever
// positions a previous process persisted under this strategy's address.
func (s *SourceStrategy) SetPrincipalStore(store PrincipalStore) error {
	if store == nil {
		return nil
	}
	saved, err := store.StrategyPrincipals(s.addr)
	if err != nil {
		return err
	}
	s.records = store
	principals := make(map[[20]byte]*big.Int, len(saved))
	total := big.NewInt(0)
	for account, amount := range saved {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		principals[account] = new(big.Int).Set(amount)
		total.Add(total, amount)
	}
	s.principals = principals
	s.totalPrincipal = total
	return nil
}

func (s *SourceStrategy) persistPrincipal(account [20]byte) error {
	if s.records == nil {
		return nil
	}
	return s.records.PutStrategyPrincipal(s.addr, account, s.principalFor(account))
}

func (s *SourceStrategy) authorized(caller [20]byte) bool {
	return s.clientSet && caller == s.client
}

func (s *SourceStrategy) checkToken(token string) error {
	if NormalizeToken(token) != s.token {
		return ErrInvalidToken
	}
	return nil
}

// Deposit moves amount of the underlying token from the caller into the
// external position, credited to recipient's principal.
func (s *SourceStrategy) Deposit(caller [20]byte, token string, amount *big.Int, recipient [20]byte) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	if err := s.checkToken(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if recipient == ([20]byte{}) {
		return ErrZeroAddress
	}
	if !s.authorized(caller) {
		return ErrUnauthorized
	}

	if err := s.book.TokenTransfer(s.token, caller, s.source.Address(), amount); err != nil {
		return err
	}
	if err := s.source.Deposit(s.token, amount); err != nil {
		return err
	}

	principal := s.principalFor(recipient)
	principal.Add(principal, amount)
	s.totalPrincipal.Add(s.totalPrincipal, amount)
	return s.persistPrincipal(recipient)
}

// Withdraw removes amount from the caller's own position.
func (s *SourceStrategy) Withdraw(caller [20]byte, token string, amount *big.Int, recipient [20]byte) error {
	if !s.authorized(caller) {
		return ErrUnauthorized
	}
	return s.withdraw(token, caller, amount, recipient)
}

// WithdrawFrom removes amount from the named client's position. Permitted for
// the operator and for the client itself.
func (s *SourceStrategy) WithdrawFrom(caller [20]byte, token string, client [20]byte, amount *big.Int, recipient [20]byte) error {
	if caller != s.operator && !(s.authorized(caller) && caller == client) {
		return ErrUnauthorized
	}
	return s.withdraw(token, client, amount, recipient)
}

// ReturnYield deposits previously collected yield back into the source.
// Principal records are untouched, so the position afterwards reports the
// same yield it did before the collection. Used to unwind a claim whose
// settlement failed partway.
func (s *SourceStrategy) ReturnYield(caller [20]byte, token string, amount *big.Int, from [20]byte) error {
	if caller != s.operator && !s.authorized(caller) {
		return ErrUnauthorized
	}
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	if err := s.checkToken(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := s.book.TokenTransfer(s.token, from, s.source.Address(), amount); err != nil {
		return err
	}
	return s.source.Deposit(s.token, amount)
}

// TotalWithdrawal exits the client's entire position, returning the amount
// moved to the recipient. Authorization is checked before the balance read so
// an empty position never short-circuits past it.
func (s *SourceStrategy) TotalWithdrawal(caller [20]byte, token string, client [20]byte, recipient [20]byte) (*big.Int, error) {
	if caller != s.operator && !(s.authorized(caller) && caller == client) {
		return nil, ErrUnauthorized
	}
	total, err := s.TotalBalanceOf(token, client)
	if err != nil {
		return nil, err
	}
	if total.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := s.WithdrawFrom(caller, token, client, total, recipient); err != nil {
		return nil, err
	}
	return total, nil
}

// withdraw debits yield first, then principal. Yield-first keeps principalOf
// stable under routine yield collection: the accumulator can drain the yield
// component repeatedly without eroding the recorded deposit.
func (s *SourceStrategy) withdraw(token string, position [20]byte, amount *big.Int, recipient [20]byte) error {
	if err := s.guard.Enter(); err != nil {
		return err
	}
	defer s.guard.Exit()
	if err := s.checkToken(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if recipient == ([20]byte{}) {
		return ErrZeroAddress
	}

	total, err := s.totalBalance(position)
	if err != nil {
		return err
	}
	if total.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}

	principal := s.principalFor(position)
	yieldPart := new(big.Int).Sub(total, principal)
	principalTaken := new(big.Int).Sub(amount, yieldPart)
	if principalTaken.Sign() > 0 {
		principal.Sub(principal, principalTaken)
		s.totalPrincipal.Sub(s.totalPrincipal, principalTaken)
	}

	if err := s.source.Withdraw(s.token, amount); err != nil {
		// Restore the principal split so a failed source call leaves no
		// partial update.
		if principalTaken.Sign() > 0 {
			principal.Add(principal, principalTaken)
			s.totalPrincipal.Add(s.totalPrincipal, principalTaken)
		}
		return err
	}
	if principalTaken.Sign() > 0 {
		if err := s.persistPrincipal(position); err != nil {
			return err
		}
	}
	return s.book.TokenTransfer(s.token, s.source.Address(), recipient, amount)
}

// EmergencyWithdraw pulls funds straight out of the source to the operator
// without touching principal bookkeeping. It exists for incident response
// only: positions sharing the strategy will afterwards report less yield (and
// eventually less principal coverage) than their records claim.
func (s *SourceStrategy) EmergencyWithdraw(caller [20]byte, amount *big.Int) error {
	if caller != s.operator {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := s.source.Withdraw(s.token, amount); err != nil {
		return err
	}
	return s.book.TokenTransfer(s.token, s.source.Address(), s.operator, amount)
}

// BalanceOf reports the position's current total balance (alias of
// TotalBalanceOf; the yield component is TotalBalanceOf - PrincipalOf).
func (s *SourceStrategy) BalanceOf(token string, account [20]byte) (*big.Int, error) {
	return s.TotalBalanceOf(token, account)
}

// PrincipalOf reports the amount deposited for the account, exclusive of yield.
func (s *SourceStrategy) PrincipalOf(token string, account [20]byte) (*big.Int, error) {
	if err := s.checkToken(token); err != nil {
		return nil, err
	}
	return new(big.Int).Set(s.principalFor(account)), nil
}

// TotalBalanceOf reports principal plus the account's pro-rata share of the
// source's accrued yield.
func (s *SourceStrategy) TotalBalanceOf(token string, account [20]byte) (*big.Int, error) {
	if err := s.checkToken(token); err != nil {
		return nil, err
	}
	return s.totalBalance(account)
}

func (s *SourceStrategy) totalBalance(account [20]byte) (*big.Int, error) {
	principal := s.principalFor(account)
	if principal.Sign() == 0 {
		return big.NewInt(0), nil
	}
	sourceBalance, err := s.source.Balance(s.token)
	if err != nil {
		return nil, err
	}
	surplus := new(big.Int).Sub(sourceBalance, s.totalPrincipal)
	if surplus.Sign() <= 0 {
		// An emergency withdrawal may leave the source under-collateralised;
		// never report below principal so the invariant holds for readers.
		return new(big.Int).Set(principal), nil
	}
	share := new(big.Int).Mul(surplus, principal)
	share.Quo(share, s.totalPrincipal)
	return share.Add(share, principal), nil
}

func (s *SourceStrategy) principalFor(account [20]byte) *big.Int {
	if p, ok := s.principals[account]; ok {
		return p
	}
	p := big.NewInt(0)
	s.principals[account] = p
	return p
}
