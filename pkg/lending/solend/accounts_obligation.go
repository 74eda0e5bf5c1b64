package solend

import (
	"crypto/ed25519"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

// MaxObligationReserves bounds deposits and borrows combined.
const MaxObligationReserves = 10

const (
	obligationPaddingSize           = 14
	obligationCollateralPaddingSize = 16
	obligationLiquidityPaddingSize  = 32
	obligationDataFlatSize          = 1096
)

const (
	ObligationCollateralSize = (32 + // deposit_reserve
		8 + // deposited_amount
		16 + // market_value
		16 + // attributed_borrow_value
		obligationCollateralPaddingSize)

	ObligationLiquiditySize = (32 + // borrow_reserve
		16 + // cumulative_borrow_rate_wads
		16 + // borrowed_amount_wads
		16 + // market_value
		obligationLiquidityPaddingSize)

	ObligationAccountSize = (1 + // version
		LastUpdateSize +
		32 + // lending_market
		32 + // owner
		16 + // deposited_value
		16 + // borrowed_value
		16 + // allowed_borrow_value
		16 + // unhealthy_borrow_value
		16 + // borrowed_value_upper_bound
		1 + // borrowing_isolated_asset
		16 + // super_unhealthy_borrow_value
		16 + // unweighted_borrowed_value
		1 + // closeable
		obligationPaddingSize +
		1 + // deposits_len
		1 + // borrows_len
		obligationDataFlatSize)
)

// ObligationCollateral amounts are collateral (cToken) amounts.
type ObligationCollateral struct {
	DepositReserve        ed25519.PublicKey
	DepositedAmount       uint64
	MarketValue           uint256.Int
	AttributedBorrowValue uint256.Int
	Padding               [obligationCollateralPaddingSize]byte
}

type ObligationLiquidity struct {
	BorrowReserve            ed25519.PublicKey
	CumulativeBorrowRateWads uint256.Int
	BorrowedAmountWads       uint256.Int
	MarketValue              uint256.Int
	Padding                  [obligationLiquidityPaddingSize]byte
}

// Obligation is a user's collateral and debt within one lending market. Its
// deposits and borrows are packed back to back into a fixed data block.
type Obligation struct {
	Version       uint8
	LastUpdate    LastUpdate
	LendingMarket ed25519.PublicKey
	Owner         ed25519.PublicKey

	DepositedValue            uint256.Int
	BorrowedValue             uint256.Int
	AllowedBorrowValue        uint256.Int
	UnhealthyBorrowValue      uint256.Int
	BorrowedValueUpperBound   uint256.Int
	BorrowingIsolatedAsset    uint8
	SuperUnhealthyBorrowValue uint256.Int
	UnweightedBorrowedValue   uint256.Int
	Closeable                 uint8
	Padding                   [obligationPaddingSize]byte

	Deposits []ObligationCollateral
	Borrows  []ObligationLiquidity

	// DataFlat holds the raw leg block, including bytes past the last leg.
	DataFlat [obligationDataFlatSize]byte
}

func (o *Obligation) Unmarshal(data []byte) error {
	if len(data) != ObligationAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolSolend,
			Kind:     AccountObligation,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", ObligationAccountSize, len(data)),
		}
	}

	var offset int
	binary.GetUint8(data, &o.Version, &offset)
	getLastUpdate(data, &o.LastUpdate, &offset)
	binary.GetKey(data, &o.LendingMarket, &offset)
	binary.GetKey(data, &o.Owner, &offset)
	binary.GetUint128(data, &o.DepositedValue, &offset)
	binary.GetUint128(data, &o.BorrowedValue, &offset)
	binary.GetUint128(data, &o.AllowedBorrowValue, &offset)
	binary.GetUint128(data, &o.UnhealthyBorrowValue, &offset)
	binary.GetUint128(data, &o.BorrowedValueUpperBound, &offset)
	binary.GetUint8(data, &o.BorrowingIsolatedAsset, &offset)
	binary.GetUint128(data, &o.SuperUnhealthyBorrowValue, &offset)
	binary.GetUint128(data, &o.UnweightedBorrowedValue, &offset)
	binary.GetUint8(data, &o.Closeable, &offset)
	binary.GetBytes(data, o.Padding[:], &offset)

	var depositsLen, borrowsLen uint8
	binary.GetUint8(data, &depositsLen, &offset)
	binary.GetUint8(data, &borrowsLen, &offset)
	binary.GetBytes(data, o.DataFlat[:], &offset)

	if int(depositsLen)+int(borrowsLen) > MaxObligationReserves {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolSolend,
			Kind:     AccountObligation,
			Field:    "deposits_len",
			Reason:   fmt.Sprintf("%d deposits and %d borrows exceed %d reserves", depositsLen, borrowsLen, MaxObligationReserves),
		}
	}
	if int(depositsLen)*ObligationCollateralSize+int(borrowsLen)*ObligationLiquiditySize > obligationDataFlatSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolSolend,
			Kind:     AccountObligation,
			Field:    "borrows_len",
			Reason:   fmt.Sprintf("%d deposits and %d borrows overflow the data block", depositsLen, borrowsLen),
		}
	}

	flat := o.DataFlat[:]
	var flatOffset int

	o.Deposits = make([]ObligationCollateral, depositsLen)
	for i := range o.Deposits {
		d := &o.Deposits[i]
		binary.GetKey(flat, &d.DepositReserve, &flatOffset)
		binary.GetUint64(flat, &d.DepositedAmount, &flatOffset)
		binary.GetUint128(flat, &d.MarketValue, &flatOffset)
		binary.GetUint128(flat, &d.AttributedBorrowValue, &flatOffset)
		binary.GetBytes(flat, d.Padding[:], &flatOffset)
	}

	o.Borrows = make([]ObligationLiquidity, borrowsLen)
	for i := range o.Borrows {
		b := &o.Borrows[i]
		binary.GetKey(flat, &b.BorrowReserve, &flatOffset)
		binary.GetUint128(flat, &b.CumulativeBorrowRateWads, &flatOffset)
		binary.GetUint128(flat, &b.BorrowedAmountWads, &flatOffset)
		binary.GetUint128(flat, &b.MarketValue, &flatOffset)
		binary.GetBytes(flat, b.Padding[:], &flatOffset)
	}

	return nil
}

// Marshal writes the legs over DataFlat. The caller must keep the legs within
// MaxObligationReserves.
func (o *Obligation) Marshal() []byte {
	data := make([]byte, ObligationAccountSize)

	var offset int
	binary.PutUint8(data, o.Version, &offset)
	putLastUpdate(data, &o.LastUpdate, &offset)
	binary.PutKey(data, o.LendingMarket, &offset)
	binary.PutKey(data, o.Owner, &offset)
	binary.PutUint128(data, &o.DepositedValue, &offset)
	binary.PutUint128(data, &o.BorrowedValue, &offset)
	binary.PutUint128(data, &o.AllowedBorrowValue, &offset)
	binary.PutUint128(data, &o.UnhealthyBorrowValue, &offset)
	binary.PutUint128(data, &o.BorrowedValueUpperBound, &offset)
	binary.PutUint8(data, o.BorrowingIsolatedAsset, &offset)
	binary.PutUint128(data, &o.SuperUnhealthyBorrowValue, &offset)
	binary.PutUint128(data, &o.UnweightedBorrowedValue, &offset)
	binary.PutUint8(data, o.Closeable, &offset)
	binary.PutBytes(data, o.Padding[:], &offset)
	binary.PutUint8(data, uint8(len(o.Deposits)), &offset)
	binary.PutUint8(data, uint8(len(o.Borrows)), &offset)

	flat := data[offset:]
	copy(flat, o.DataFlat[:])

	var flatOffset int
	for i := range o.Deposits {
		d := &o.Deposits[i]
		binary.PutKey(flat, d.DepositReserve, &flatOffset)
		binary.PutUint64(flat, d.DepositedAmount, &flatOffset)
		binary.PutUint128(flat, &d.MarketValue, &flatOffset)
		binary.PutUint128(flat, &d.AttributedBorrowValue, &flatOffset)
		binary.PutBytes(flat, d.Padding[:], &flatOffset)
	}
	for i := range o.Borrows {
		b := &o.Borrows[i]
		binary.PutKey(flat, b.BorrowReserve, &flatOffset)
		binary.PutUint128(flat, &b.CumulativeBorrowRateWads, &flatOffset)
		binary.PutUint128(flat, &b.BorrowedAmountWads, &flatOffset)
		binary.PutUint128(flat, &b.MarketValue, &flatOffset)
		binary.PutBytes(flat, b.Padding[:], &flatOffset)
	}

	return data
}

func (o *Obligation) String() string {
	return fmt.Sprintf(
		"Obligation{owner=%s,lending_market=%s,deposits=%d,borrows=%d}",
		base58.Encode(o.Owner),
		base58.Encode(o.LendingMarket),
		len(o.Deposits),
		len(o.Borrows),
	)
}

// Reserves lists deposit reserves followed by borrow reserves, the order
// refresh_obligation expects.
func (o *Obligation) Reserves() (deposits, borrows []ed25519.PublicKey) {
	for _, d := range o.Deposits {
		deposits = append(deposits, d.DepositReserve)
	}
	for _, b := range o.Borrows {
		borrows = append(borrows, b.BorrowReserve)
	}
	return deposits, borrows
}
