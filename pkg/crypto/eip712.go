package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator; it binds signatures to one deployment
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int       // 1337 for local
	VerifyingContract common.Address // zero for off-chain signing
}

func DefaultDomain() EIP712Domain {
	return DomainForChain(1337)
}

func DomainForChain(chainID int64) EIP712Domain {
	return EIP712Domain{
		Name:    "HyperPredict",
		Version: "1",
		ChainID: big.NewInt(chainID),
	}
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Message is a typed command a wallet can sign
type Message interface {
	primaryType() string
	fields() []apitypes.Type
	values() apitypes.TypedDataMessage
	signedBy() common.Address
	nonce() *big.Int
	expiry() *big.Int // nil or 0 = no expiry
}

// Side and outcome encodings used in typed data
const (
	SideBuy  uint8 = 1
	SideSell uint8 = 2

	OutcomeYes uint8 = 1
	OutcomeNo  uint8 = 2
)

// OrderEIP712 is the typed data users sign to place an order
type OrderEIP712 struct {
	MarketID string
	Side     uint8    // 1 = Buy, 2 = Sell
	Outcome  uint8    // 1 = Yes, 2 = No
	Price    *big.Int // bps, 1..9999
	Amount   *big.Int // shares
	Nonce    *big.Int
	Deadline *big.Int // signature expiry (unix seconds), 0 = none
	Owner    common.Address
}

func (o *OrderEIP712) primaryType() string { return "Order" }

func (o *OrderEIP712) fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "marketId", Type: "string"},
		{Name: "side", Type: "uint8"},
		{Name: "outcome", Type: "uint8"},
		{Name: "price", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (o *OrderEIP712) values() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"marketId": o.MarketID,
		"side":     fmt.Sprintf("%d", o.Side),
		"outcome":  fmt.Sprintf("%d", o.Outcome),
		"price":    bigString(o.Price),
		"amount":   bigString(o.Amount),
		"nonce":    bigString(o.Nonce),
		"deadline": bigString(o.Deadline),
		"owner":    o.Owner.Hex(),
	}
}

func (o *OrderEIP712) signedBy() common.Address { return o.Owner }
func (o *OrderEIP712) nonce() *big.Int          { return o.Nonce }
func (o *OrderEIP712) expiry() *big.Int         { return o.Deadline }

// Action names for ActionEIP712
const (
	ActionCancel   = "cancel"
	ActionClaim    = "claim"
	ActionRefund   = "refund"
	ActionWithdraw = "withdraw"
	ActionResolve  = "resolve"
	ActionCollect  = "collect" // retry payouts the node still owes
)

// ActionEIP712 authorizes a market action. OrderID is only meaningful for cancel,
// MarketID is ignored by collect.
type ActionEIP712 struct {
	Action   string
	MarketID string
	OrderID  *big.Int
	Nonce    *big.Int
	Owner    common.Address
}

func (a *ActionEIP712) primaryType() string { return "Action" }

func (a *ActionEIP712) fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "marketId", Type: "string"},
		{Name: "orderId", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
}

func (a *ActionEIP712) values() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"action":   a.Action,
		"marketId": a.MarketID,
		"orderId":  bigString(a.OrderID),
		"nonce":    bigString(a.Nonce),
		"owner":    a.Owner.Hex(),
	}
}

func (a *ActionEIP712) signedBy() common.Address { return a.Owner }
func (a *ActionEIP712) nonce() *big.Int          { return a.Nonce }
func (a *ActionEIP712) expiry() *big.Int         { return nil }

// CreateMarketEIP712 authorizes market creation and the fee payment
type CreateMarketEIP712 struct {
	Question string
	Deadline *big.Int // market deadline (unix seconds)
	Payment  *big.Int
	Nonce    *big.Int
	Creator  common.Address
}

func (c *CreateMarketEIP712) primaryType() string { return "CreateMarket" }

func (c *CreateMarketEIP712) fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "question", Type: "string"},
		{Name: "deadline", Type: "uint256"},
		{Name: "payment", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "creator", Type: "address"},
	}
}

func (c *CreateMarketEIP712) values() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"question": c.Question,
		"deadline": bigString(c.Deadline),
		"payment":  bigString(c.Payment),
		"nonce":    bigString(c.Nonce),
		"creator":  c.Creator.Hex(),
	}
}

func (c *CreateMarketEIP712) signedBy() common.Address { return c.Creator }
func (c *CreateMarketEIP712) nonce() *big.Int          { return c.Nonce }
func (c *CreateMarketEIP712) expiry() *big.Int         { return nil }

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// EIP712Signer hashes, signs and recovers typed messages under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(m Message) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainFields,
			m.primaryType(): m.fields(),
		},
		PrimaryType: m.primaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: m.values(),
	}
}

// Hash returns the digest a wallet signs for m
func (e *EIP712Signer) Hash(m Message) ([]byte, error) {
	typedData := e.typedData(m)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func (e *EIP712Signer) Sign(signer *Signer, m Message) ([]byte, error) {
	hash, err := e.Hash(m)
	if err != nil {
		return nil, err
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", m.primaryType(), err)
	}
	return signature, nil
}

// Recover returns the address that signed m
func (e *EIP712Signer) Recover(m Message, signature []byte) (common.Address, error) {
	hash, err := e.Hash(m)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// ToJSON renders m as eth_signTypedData_v4 input for wallets
func (e *EIP712Signer) ToJSON(m Message) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(m), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}

// SideToUint8 maps a side name in any case to its wire code; 0 means unknown
func SideToUint8(side string) uint8 {
	switch strings.ToLower(side) {
	case "buy":
		return SideBuy
	case "sell":
		return SideSell
	default:
		return 0
	}
}

func Uint8ToSide(side uint8) string {
	switch side {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

func OutcomeToUint8(outcome string) uint8 {
	switch strings.ToLower(outcome) {
	case "yes":
		return OutcomeYes
	case "no":
		return OutcomeNo
	default:
		return 0
	}
}

func Uint8ToOutcome(outcome uint8) string {
	switch outcome {
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	default:
		return "unknown"
	}
}
