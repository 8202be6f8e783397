package crypto

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
)

// Verifier checks signed commands and remembers every accepted (owner, nonce) pair
type Verifier struct {
	signer *EIP712Signer
	now    func() time.Time

	mu   sync.Mutex
	used map[common.Address]map[string]struct{}
}

func NewVerifier(domain EIP712Domain, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		signer: NewEIP712Signer(domain),
		now:    now,
		used:   make(map[common.Address]map[string]struct{}),
	}
}

func (v *Verifier) Signer() *EIP712Signer { return v.signer }

// Verify checks that sigHex over m was produced by m's owner, that it has not expired
// and that its nonce was never accepted before. On success the nonce is consumed.
func (v *Verifier) Verify(m Message, sigHex string) (common.Address, error) {
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errs.ErrInvalidSignature, err)
	}

	recovered, err := v.signer.Recover(m, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errs.ErrInvalidSignature, err)
	}
	owner := m.signedBy()
	if recovered != owner {
		return common.Address{}, fmt.Errorf("%w: signed by %s, claims %s", errs.ErrInvalidSignature, recovered.Hex(), owner.Hex())
	}

	if exp := m.expiry(); exp != nil && exp.Sign() > 0 && exp.Cmp(big.NewInt(v.now().Unix())) < 0 {
		return common.Address{}, fmt.Errorf("%w: at %s", errs.ErrSignatureExpired, exp)
	}

	nonce := bigString(m.nonce())
	v.mu.Lock()
	defer v.mu.Unlock()
	seen, ok := v.used[owner]
	if !ok {
		seen = make(map[string]struct{})
		v.used[owner] = seen
	}
	if _, dup := seen[nonce]; dup {
		return common.Address{}, fmt.Errorf("%w: %s nonce %s", errs.ErrNonceReused, owner.Hex(), nonce)
	}
	seen[nonce] = struct{}{}
	return owner, nil
}
