package drift

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

var UserAccountDiscriminator = codec.AccountDiscriminator("User")

// MaxSpotPositions is the number of spot slots shared by deposits and
// borrows.
const MaxSpotPositions = 8

const (
	maxPerpPositions = 8
	maxOrders        = 32
	perpPositionSize = 96
	orderSize        = 96
	userPaddingSize  = 12
)

const (
	SpotPositionSize = (8 + // scaled_balance
		8 + // open_bids
		8 + // open_asks
		8 + // cumulative_deposits
		2 + // market_index
		1 + // balance_type
		1 + // open_orders
		4) // padding

	UserAccountSize = (8 + // discriminator
		32 + // authority
		32 + // delegate
		32 + // name
		MaxSpotPositions*SpotPositionSize +
		maxPerpPositions*perpPositionSize +
		maxOrders*orderSize +
		9*8 + // last_add_perp_lp_shares_ts .. last_active_slot
		4 + // next_order_id
		4 + // max_margin_ratio
		2 + // next_liquidation_id
		2 + // sub_account_id
		9 + // status .. pool_id
		3 + // padding1
		4 + // last_fuel_bonus_update_ts
		userPaddingSize)
)

// BalanceType tells whether a spot slot is a deposit or a borrow.
type BalanceType uint8

const (
	BalanceDeposit BalanceType = iota
	BalanceBorrow
)

func (t BalanceType) String() string {
	if t == BalanceBorrow {
		return "borrow"
	}
	return "deposit"
}

// User status flags.
const (
	UserBeingLiquidated uint8 = 1 << 0
	UserBankrupt        uint8 = 1 << 1
	UserReduceOnly      uint8 = 1 << 2
	UserProtectedMaker  uint8 = 1 << 3
)

// SpotPosition is one spot slot of a user. The scaled balance is converted
// to tokens with the market's cumulative interest.
type SpotPosition struct {
	ScaledBalance      uint64
	OpenBids           int64
	OpenAsks           int64
	CumulativeDeposits int64
	MarketIndex        uint16
	BalanceType        BalanceType
	OpenOrders         uint8
	Padding            [4]byte
}

// IsAvailable reports whether the slot is unused.
func (p *SpotPosition) IsAvailable() bool {
	return p.ScaledBalance == 0 && p.OpenOrders == 0
}

// User is a Drift sub account.
type User struct {
	Authority ed25519.PublicKey
	Delegate  ed25519.PublicKey
	Name      [32]byte

	SpotPositions [MaxSpotPositions]SpotPosition
	PerpPositions [maxPerpPositions * perpPositionSize]byte
	Orders        [maxOrders * orderSize]byte

	LastAddPerpLpSharesTs  int64
	TotalDeposits          uint64
	TotalWithdraws         uint64
	TotalSocialLoss        uint64
	SettledPerpPnl         int64
	CumulativeSpotFees     int64
	CumulativePerpFunding  int64
	LiquidationMarginFreed uint64
	LastActiveSlot         uint64

	NextOrderID       uint32
	MaxMarginRatio    uint32
	NextLiquidationID uint16
	SubAccountID      uint16

	Status                 uint8
	IsMarginTradingEnabled uint8
	Idle                   uint8
	OpenOrders             uint8
	HasOpenOrder           uint8
	OpenAuctions           uint8
	HasOpenAuction         uint8
	MarginMode             uint8
	PoolID                 uint8
	Padding1               [3]byte

	LastFuelBonusUpdateTs uint32
	Padding               [userPaddingSize]byte
}

func (u *User) Unmarshal(data []byte) error {
	if len(data) != UserAccountSize {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolDrift,
			Kind:     AccountUser,
			Reason:   fmt.Sprintf("expected %d bytes, got %d", UserAccountSize, len(data)),
		}
	}

	var offset int
	var discriminator []byte
	binary.GetDiscriminator(data, &discriminator, &offset)
	if string(discriminator) != string(UserAccountDiscriminator) {
		return &lending.MalformedAccountError{
			Protocol: lending.ProtocolDrift,
			Kind:     AccountUser,
			Field:    "discriminator",
			Reason:   fmt.Sprintf("unexpected %x", discriminator),
		}
	}

	binary.GetKey(data, &u.Authority, &offset)
	binary.GetKey(data, &u.Delegate, &offset)
	binary.GetBytes(data, u.Name[:], &offset)

	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		binary.GetUint64(data, &p.ScaledBalance, &offset)
		binary.GetInt64(data, &p.OpenBids, &offset)
		binary.GetInt64(data, &p.OpenAsks, &offset)
		binary.GetInt64(data, &p.CumulativeDeposits, &offset)
		binary.GetUint16(data, &p.MarketIndex, &offset)
		var balanceType uint8
		binary.GetUint8(data, &balanceType, &offset)
		p.BalanceType = BalanceType(balanceType)
		binary.GetUint8(data, &p.OpenOrders, &offset)
		binary.GetBytes(data, p.Padding[:], &offset)
	}
	binary.GetBytes(data, u.PerpPositions[:], &offset)
	binary.GetBytes(data, u.Orders[:], &offset)

	binary.GetInt64(data, &u.LastAddPerpLpSharesTs, &offset)
	binary.GetUint64(data, &u.TotalDeposits, &offset)
	binary.GetUint64(data, &u.TotalWithdraws, &offset)
	binary.GetUint64(data, &u.TotalSocialLoss, &offset)
	binary.GetInt64(data, &u.SettledPerpPnl, &offset)
	binary.GetInt64(data, &u.CumulativeSpotFees, &offset)
	binary.GetInt64(data, &u.CumulativePerpFunding, &offset)
	binary.GetUint64(data, &u.LiquidationMarginFreed, &offset)
	binary.GetUint64(data, &u.LastActiveSlot, &offset)

	binary.GetUint32(data, &u.NextOrderID, &offset)
	binary.GetUint32(data, &u.MaxMarginRatio, &offset)
	binary.GetUint16(data, &u.NextLiquidationID, &offset)
	binary.GetUint16(data, &u.SubAccountID, &offset)

	binary.GetUint8(data, &u.Status, &offset)
	binary.GetUint8(data, &u.IsMarginTradingEnabled, &offset)
	binary.GetUint8(data, &u.Idle, &offset)
	binary.GetUint8(data, &u.OpenOrders, &offset)
	binary.GetUint8(data, &u.HasOpenOrder, &offset)
	binary.GetUint8(data, &u.OpenAuctions, &offset)
	binary.GetUint8(data, &u.HasOpenAuction, &offset)
	binary.GetUint8(data, &u.MarginMode, &offset)
	binary.GetUint8(data, &u.PoolID, &offset)
	binary.GetBytes(data, u.Padding1[:], &offset)

	binary.GetUint32(data, &u.LastFuelBonusUpdateTs, &offset)
	binary.GetBytes(data, u.Padding[:], &offset)

	return nil
}

func (u *User) Marshal() []byte {
	data := make([]byte, UserAccountSize)

	var offset int
	binary.PutDiscriminator(data, UserAccountDiscriminator, &offset)
	binary.PutKey(data, u.Authority, &offset)
	binary.PutKey(data, u.Delegate, &offset)
	binary.PutBytes(data, u.Name[:], &offset)

	for i := range u.SpotPositions {
		p := &u.SpotPositions[i]
		binary.PutUint64(data, p.ScaledBalance, &offset)
		binary.PutInt64(data, p.OpenBids, &offset)
		binary.PutInt64(data, p.OpenAsks, &offset)
		binary.PutInt64(data, p.CumulativeDeposits, &offset)
		binary.PutUint16(data, p.MarketIndex, &offset)
		binary.PutUint8(data, uint8(p.BalanceType), &offset)
		binary.PutUint8(data, p.OpenOrders, &offset)
		binary.PutBytes(data, p.Padding[:], &offset)
	}
	binary.PutBytes(data, u.PerpPositions[:], &offset)
	binary.PutBytes(data, u.Orders[:], &offset)

	binary.PutInt64(data, u.LastAddPerpLpSharesTs, &offset)
	binary.PutUint64(data, u.TotalDeposits, &offset)
	binary.PutUint64(data, u.TotalWithdraws, &offset)
	binary.PutUint64(data, u.TotalSocialLoss, &offset)
	binary.PutInt64(data, u.SettledPerpPnl, &offset)
	binary.PutInt64(data, u.CumulativeSpotFees, &offset)
	binary.PutInt64(data, u.CumulativePerpFunding, &offset)
	binary.PutUint64(data, u.LiquidationMarginFreed, &offset)
	binary.PutUint64(data, u.LastActiveSlot, &offset)

	binary.PutUint32(data, u.NextOrderID, &offset)
	binary.PutUint32(data, u.MaxMarginRatio, &offset)
	binary.PutUint16(data, u.NextLiquidationID, &offset)
	binary.PutUint16(data, u.SubAccountID, &offset)

	binary.PutUint8(data, u.Status, &offset)
	binary.PutUint8(data, u.IsMarginTradingEnabled, &offset)
	binary.PutUint8(data, u.Idle, &offset)
	binary.PutUint8(data, u.OpenOrders, &offset)
	binary.PutUint8(data, u.HasOpenOrder, &offset)
	binary.PutUint8(data, u.OpenAuctions, &offset)
	binary.PutUint8(data, u.HasOpenAuction, &offset)
	binary.PutUint8(data, u.MarginMode, &offset)
	binary.PutUint8(data, u.PoolID, &offset)
	binary.PutBytes(data, u.Padding1[:], &offset)

	binary.PutUint32(data, u.LastFuelBonusUpdateTs, &offset)
	binary.PutBytes(data, u.Padding[:], &offset)

	return data
}

func (u *User) String() string {
	return fmt.Sprintf(
		"User{authority=%s,sub_account=%d,name=%s,spot_positions=%d,status=%d}",
		base58.Encode(u.Authority),
		u.SubAccountID,
		u.UserName(),
		len(u.ActiveSpotPositions()),
		u.Status,
	)
}

func (u *User) UserName() string {
	return strings.TrimRight(string(u.Name[:]), " \x00")
}

// ActiveSpotPositions returns the used spot slots in slot order.
func (u *User) ActiveSpotPositions() []SpotPosition {
	var res []SpotPosition
	for _, p := range u.SpotPositions {
		if !p.IsAvailable() {
			res = append(res, p)
		}
	}
	return res
}

// SpotPosition returns the slot for a market index.
func (u *User) SpotPosition(marketIndex uint16) (SpotPosition, bool) {
	for _, p := range u.SpotPositions {
		if !p.IsAvailable() && p.MarketIndex == marketIndex {
			return p, true
		}
	}
	return SpotPosition{}, false
}

func (u *User) IsBeingLiquidated() bool {
	return u.Status&(UserBeingLiquidated|UserBankrupt) != 0
}

func (u *User) IsReduceOnly() bool {
	return u.Status&UserReduceOnly != 0
}
