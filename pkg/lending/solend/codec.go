package solend

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

// versionTag is the leading version byte of every account written by the
// current program.
var versionTag = []byte{ProgramVersion}

func init() {
	Register(codec.Default)
}

// Register adds the Solend layouts to a codec registry. Solend accounts carry
// no discriminator and are told apart by size. The leading version byte is
// matched as the schema tag, so any layout version other than ProgramVersion
// is malformed.
func Register(r *codec.Registry) {
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolSolend,
		Name:          AccountReserve,
		Kind:          lending.KindMarket,
		Size:          ReserveAccountSize,
		Discriminator: versionTag,
		Decode: func(data []byte) (codec.Record, error) {
			var reserve Reserve
			if err := reserve.Unmarshal(data); err != nil {
				return nil, err
			}
			return &reserve, nil
		},
	})
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolSolend,
		Name:          AccountObligation,
		Kind:          lending.KindPosition,
		Size:          ObligationAccountSize,
		Discriminator: versionTag,
		Decode: func(data []byte) (codec.Record, error) {
			var obligation Obligation
			if err := obligation.Unmarshal(data); err != nil {
				return nil, err
			}
			return &obligation, nil
		},
	})
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolSolend,
		Name:          AccountLendingMarket,
		Kind:          lending.KindLendingMarket,
		Size:          LendingMarketAccountSize,
		Discriminator: versionTag,
		Decode: func(data []byte) (codec.Record, error) {
			var market LendingMarket
			if err := market.Unmarshal(data); err != nil {
				return nil, err
			}
			return &market, nil
		},
	})

	registerInstruction(r, InstructionRefreshReserve, tagRefreshReserve, noArgs(InstructionRefreshReserve))
	registerInstruction(r, InstructionInitObligation, tagInitObligation, noArgs(InstructionInitObligation))
	registerInstruction(r, InstructionRefreshObligation, tagRefreshObligation, noArgs(InstructionRefreshObligation))

	for name, tag := range map[string]instructionTag{
		InstructionDepositReserveLiquidity: tagDepositReserveLiquidity,
		InstructionBorrow:                  tagBorrow,
		InstructionRepay:                   tagRepay,
		InstructionDeposit:                 tagDeposit,
		InstructionWithdraw:                tagWithdraw,
		InstructionLiquidate:               tagLiquidate,
	} {
		name := name
		registerInstruction(r, name, tag, func(params interface{}) ([]byte, error) {
			args, ok := params.(*AmountArgs)
			if !ok {
				return nil, paramsError(name, params)
			}
			if args.Amount == 0 {
				return nil, lending.NewParameterError("amount", "0", name+" requires a non-zero amount")
			}
			return args.encode(), nil
		})
	}
}

func registerInstruction(r *codec.Registry, name string, tag instructionTag, encode func(interface{}) ([]byte, error)) {
	r.RegisterInstruction(&codec.InstructionSchema{
		Protocol:      lending.ProtocolSolend,
		Name:          name,
		Discriminator: tag.bytes(),
		Encode:        encode,
	})
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
