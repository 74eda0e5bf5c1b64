package kamino

import (
	"fmt"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
)

const (
	AccountReserve       = "Reserve"
	AccountObligation    = "Obligation"
	AccountLendingMarket = "LendingMarket"
)

func init() {
	Register(codec.Default)
}

// Register adds the klend layouts to a codec registry.
func Register(r *codec.Registry) {
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolKamino,
		Name:          AccountReserve,
		Kind:          lending.KindMarket,
		Size:          ReserveAccountSize,
		Discriminator: ReserveAccountDiscriminator,
		Decode: func(data []byte) (codec.Record, error) {
			var reserve Reserve
			if err := reserve.Unmarshal(data); err != nil {
				return nil, err
			}
			return &reserve, nil
		},
	})
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolKamino,
		Name:          AccountObligation,
		Kind:          lending.KindPosition,
		Size:          ObligationAccountSize,
		Discriminator: ObligationAccountDiscriminator,
		Decode: func(data []byte) (codec.Record, error) {
			var obligation Obligation
			if err := obligation.Unmarshal(data); err != nil {
				return nil, err
			}
			return &obligation, nil
		},
	})
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolKamino,
		Name:          AccountLendingMarket,
		Kind:          lending.KindLendingMarket,
		Size:          LendingMarketAccountSize,
		Discriminator: LendingMarketAccountDiscriminator,
		Decode: func(data []byte) (codec.Record, error) {
			var market LendingMarket
			if err := market.Unmarshal(data); err != nil {
				return nil, err
			}
			return &market, nil
		},
	})

	registerInstruction(r, InstructionInitUserMetadata, initUserMetadataDiscriminator, func(params interface{}) ([]byte, error) {
		args, ok := params.(*InitUserMetadataArgs)
		if !ok {
			return nil, paramsError(InstructionInitUserMetadata, params)
		}
		return args.encode(), nil
	})
	registerInstruction(r, InstructionInitObligation, initObligationDiscriminator, func(params interface{}) ([]byte, error) {
		args, ok := params.(*InitObligationArgs)
		if !ok {
			return nil, paramsError(InstructionInitObligation, params)
		}
		if args.Tag > uint8(ObligationLeverage) {
			return nil, lending.NewParameterError("tag", fmt.Sprint(args.Tag), "unknown obligation type")
		}
		return args.encode(), nil
	})
	registerInstruction(r, InstructionRefreshReserve, refreshReserveDiscriminator, noArgs)
	registerInstruction(r, InstructionRefreshObligation, refreshObligationDiscriminator, noArgs)
	for name, discriminator := range map[string][]byte{
		InstructionDeposit:  depositDiscriminator,
		InstructionWithdraw: withdrawDiscriminator,
		InstructionBorrow:   borrowDiscriminator,
		InstructionRepay:    repayDiscriminator,
	} {
		name := name
		registerInstruction(r, name, discriminator, func(params interface{}) ([]byte, error) {
			args, ok := params.(*AmountArgs)
			if !ok {
				return nil, paramsError(name, params)
			}
			return args.encode(), nil
		})
	}
	registerInstruction(r, InstructionLiquidate, liquidateDiscriminator, func(params interface{}) ([]byte, error) {
		args, ok := params.(*LiquidateArgs)
		if !ok {
			return nil, paramsError(InstructionLiquidate, params)
		}
		if args.MaxAllowedLtvOverridePercent > 100 {
			return nil, lending.NewParameterError("max_allowed_ltv_override_percent", fmt.Sprint(args.MaxAllowedLtvOverridePercent), "must be at most 100")
		}
		return args.encode(), nil
	})
}

func registerInstruction(r *codec.Registry, name string, discriminator []byte, encode func(interface{}) ([]byte, error)) {
	r.RegisterInstruction(&codec.InstructionSchema{
		Protocol:      lending.ProtocolKamino,
		Name:          name,
		Discriminator: discriminator,
		Encode:        encode,
	})
}

func noArgs(params interface{}) ([]byte, error) {
	if params != nil {
		return nil, paramsError("refresh", params)
	}
	return nil, nil
}

func paramsError(name string, params interface{}) error {
	return lending.NewParameterError("params", fmt.Sprintf("%T", params), "unexpected arguments for "+name)
}
