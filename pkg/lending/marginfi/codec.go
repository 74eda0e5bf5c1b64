package marginfi

import (
	"fmt"

	"github.com/lendsdk/lendsdk/pkg/lending"
	"github.com/lendsdk/lendsdk/pkg/lending/codec"
)

const (
	AccountBank            = "Bank"
	AccountMarginfiAccount = "MarginfiAccount"
	AccountGroup           = "MarginfiGroup"
)

func init() {
	Register(codec.Default)
}

// Register adds the marginfi v2 layouts to a codec registry.
func Register(r *codec.Registry) {
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolMarginfi,
		Name:          AccountBank,
		Kind:          lending.KindMarket,
		Size:          BankAccountSize,
		Discriminator: BankAccountDiscriminator,
		Decode: func(data []byte) (codec.Record, error) {
			var bank Bank
			if err := bank.Unmarshal(data); err != nil {
				return nil, err
			}
			return &bank, nil
		},
	})
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolMarginfi,
		Name:          AccountMarginfiAccount,
		Kind:          lending.KindPosition,
		Size:          MarginfiAccountSize,
		Discriminator: MarginfiAccountDiscriminator,
		Decode: func(data []byte) (codec.Record, error) {
			var account MarginfiAccount
			if err := account.Unmarshal(data); err != nil {
				return nil, err
			}
			return &account, nil
		},
	})
	r.RegisterAccount(&codec.AccountSchema{
		Protocol:      lending.ProtocolMarginfi,
		Name:          AccountGroup,
		Kind:          lending.KindLendingMarket,
		Size:          GroupAccountSize,
		Discriminator: GroupAccountDiscriminator,
		Decode: func(data []byte) (codec.Record, error) {
			var group Group
			if err := group.Unmarshal(data); err != nil {
				return nil, err
			}
			return &group, nil
		},
	})

	registerInstruction(r, InstructionInitializeAccount, initializeAccountDiscriminator, noArgs(InstructionInitializeAccount))
	registerInstruction(r, InstructionAccrueInterest, accrueInterestDiscriminator, noArgs(InstructionAccrueInterest))
	registerInstruction(r, InstructionCloseBalance, closeBalanceDiscriminator, noArgs(InstructionCloseBalance))

	registerInstruction(r, InstructionDeposit, depositDiscriminator, amountArgs(InstructionDeposit, true))
	registerInstruction(r, InstructionWithdraw, withdrawDiscriminator, amountArgs(InstructionWithdraw, true))
	registerInstruction(r, InstructionRepay, repayDiscriminator, amountArgs(InstructionRepay, true))
	registerInstruction(r, InstructionBorrow, borrowDiscriminator, amountArgs(InstructionBorrow, false))
	registerInstruction(r, InstructionLiquidate, liquidateDiscriminator, amountArgs(InstructionLiquidate, false))
}

func registerInstruction(r *codec.Registry, name string, discriminator []byte, encode func(interface{}) ([]byte, error)) {
	r.RegisterInstruction(&codec.InstructionSchema{
		Protocol:      lending.ProtocolMarginfi,
		Name:          name,
		Discriminator: discriminator,
		Encode:        encode,
	})
}

func amountArgs(name string, withFlag bool) func(interface{}) ([]byte, error) {
	return func(params interface{}) ([]byte, error) {
		args, ok := params.(*AmountArgs)
		if !ok {
			return nil, paramsError(name, params)
		}
		if !withFlag && args.All != nil {
			return nil, lending.NewParameterError("all", fmt.Sprint(*args.All), name+" has no all variant")
		}
		return args.encode(withFlag), nil
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
