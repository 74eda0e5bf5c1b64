package drift

import (
	"fmt"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
	"github.com/lendsdk/lendsdk/pkg/solana/binary"
)

const (
	AccountSpotMarket = "SpotMarket"
	AccountUser       = "User"
)

func init() {
	Register(codec.Default)
}

// Register adds the Drift spot layouts to a codec registry.
func Register(r *codec.Registry) {
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolDrift,
		Name:          AccountSpotMarket,
		Kind:          lending.KindMarket,
		Size:          SpotMarketAccountSize,
		Discriminator: SpotMarketAccountDiscriminator,
		Decode: func(data []byte) (codec.Record, error) {
			var market SpotMarket
			if err := market.Unmarshal(data); err != nil {
				return nil, err
			}
			return &market, nil
		},
	})
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolDrift,
		Name:          AccountUser,
		Kind:          lending.KindPosition,
		Size:          UserAccountSize,
		Discriminator: UserAccountDiscriminator,
		Decode: func(data []byte) (codec.Record, error) {
			var user User
			if err := user.Unmarshal(data); err != nil {
				return nil, err
			}
			return &user, nil
		},
	})

	registerInstruction(r, InstructionInitializeUserStats, initializeUserStatsDiscriminator, noArgs(InstructionInitializeUserStats))
	registerInstruction(r, InstructionUpdateInterest, updateInterestDiscriminator, noArgs(InstructionUpdateInterest))

	registerInstruction(r, InstructionInitializeUser, initializeUserDiscriminator, func(params interface{}) ([]byte, error) {
		args, ok := params.(*InitializeUserArgs)
		if !ok {
			return nil, paramsError(InstructionInitializeUser, params)
		}
		return args.encode(), nil
	})
	registerInstruction(r, InstructionDeposit, depositDiscriminator, balanceArgs(InstructionDeposit))
	registerInstruction(r, InstructionWithdraw, withdrawDiscriminator, balanceArgs(InstructionWithdraw))
	registerInstruction(r, InstructionLiquidateSpot, liquidateSpotDiscriminator, func(params interface{}) ([]byte, error) {
		args, ok := params.(*LiquidateSpotArgs)
		if !ok {
			return nil, paramsError(InstructionLiquidateSpot, params)
		}
		if !binary.FitsUint128(&args.MaxLiabilityTransfer) {
			return nil, lending.NewParameterError("max_liability_transfer", args.MaxLiabilityTransfer.Dec(), "overflows u128")
		}
		if args.MaxLiabilityTransfer.IsZero() {
			return nil, lending.NewParameterError("max_liability_transfer", "0", "must be positive")
		}
		if args.AssetMarketIndex == args.LiabilityMarketIndex {
			return nil, lending.NewParameterError("liability_market_index", fmt.Sprint(args.LiabilityMarketIndex), "asset and liability markets must differ")
		}
		return args.encode(), nil
	})
}

func registerInstruction(r *codec.Registry, name string, discriminator []byte, encode func(interface{}) ([]byte, error)) {
	r.RegisterInstruction(&codec.InstructionSchema{
		Protocol:      lending.ProtocolDrift,
		Name:          name,
		Discriminator: discriminator,
		Encode:        encode,
	})
}

func balanceArgs(name string) func(interface{}) ([]byte, error) {
	return func(params interface{}) ([]byte, error) {
		args, ok := params.(*BalanceArgs)
		if !ok {
			return nil, paramsError(name, params)
		}
		if args.Amount == 0 {
			return nil, lending.NewParameterError("amount", "0", name+" requires a non-zero amount")
		}
		return args.encode(), nil
	}
}

func noArgs(name string) func(interface{}) ([]byte, error) {
	return func(params interface{}) ([]byte, error) {
		if params != nil {
			return nil, paramsError(name, params)
		}
		return nil, nil
	}
}

func paramsError(name string, params interface{}) error {
	return lending.NewParameterError("params", fmt.Sprintf("%T", params), "unexpected arguments for "+name)
}
