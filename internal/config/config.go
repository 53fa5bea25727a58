package config

import (
	"time"

	"github.com/spf13/viper"
)

// Payment method identifiers used across pricing and checkout.
const (
	MethodBankTransfer = "bank_transfer"
	MethodCard         = "card"
	MethodUSSD         = "ussd"
)

// FeeRule describes the gateway fee for one payment method. The numbers
// mirror the gateway's published fee table and must be kept in sync with the
// live contract, which is why they are configuration rather than constants.
type FeeRule struct {
	Percentage          float64
	FixedFee            float64
	FixedFeeWaiverBelow float64
	Cap                 float64
}

// Pricing holds every knob the pricing engine and withdrawal guard need.
// It is loaded once at startup and injected, so the engine itself stays pure.
type Pricing struct {
	CommissionRate          float64
	UnverifiedWithdrawalCap float64
	MinDeposit              float64
	MinWithdrawal           float64
	ReverseMaxIterations    int
	Fees                    map[string]FeeRule
}

// PIN holds the transaction-PIN lockout policy.
type PIN struct {
	MaxAttempts     int
	LockoutDuration time.Duration
}

// Squad holds payment gateway credentials.
type Squad struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
}

// Mailer holds the transactional email provider settings. An empty APIKey
// switches the notifier into log-only mode for local development.
type Mailer struct {
	APIURL string
	APIKey string
	From   string
}

func LoadPricing() *Pricing {
	viper.SetDefault("pricing.commission_rate", 0.10)
	viper.SetDefault("pricing.unverified_withdrawal_cap", 5000.0)
	viper.SetDefault("pricing.min_deposit", 100.0)
	viper.SetDefault("pricing.min_withdrawal", 500.0)
	viper.SetDefault("pricing.reverse_max_iterations", 5)

	viper.SetDefault("fees.bank_transfer.percentage", 0.01)
	viper.SetDefault("fees.bank_transfer.fixed_fee", 0.0)
	viper.SetDefault("fees.bank_transfer.fixed_fee_waiver_below", 0.0)
	viper.SetDefault("fees.bank_transfer.cap", 1000.0)

	viper.SetDefault("fees.card.percentage", 0.015)
	viper.SetDefault("fees.card.fixed_fee", 100.0)
	viper.SetDefault("fees.card.fixed_fee_waiver_below", 2500.0)
	viper.SetDefault("fees.card.cap", 2000.0)

	viper.SetDefault("fees.ussd.percentage", 0.015)
	viper.SetDefault("fees.ussd.fixed_fee", 100.0)
	viper.SetDefault("fees.ussd.fixed_fee_waiver_below", 2500.0)
	viper.SetDefault("fees.ussd.cap", 2000.0)

	return &Pricing{
		CommissionRate:          viper.GetFloat64("pricing.commission_rate"),
		UnverifiedWithdrawalCap: viper.GetFloat64("pricing.unverified_withdrawal_cap"),
		MinDeposit:              viper.GetFloat64("pricing.min_deposit"),
		MinWithdrawal:           viper.GetFloat64("pricing.min_withdrawal"),
		ReverseMaxIterations:    viper.GetInt("pricing.reverse_max_iterations"),
		Fees: map[string]FeeRule{
			MethodBankTransfer: loadFeeRule("bank_transfer"),
			MethodCard:         loadFeeRule("card"),
			MethodUSSD:         loadFeeRule("ussd"),
		},
	}
}

func loadFeeRule(method string) FeeRule {
	return FeeRule{
		Percentage:          viper.GetFloat64("fees." + method + ".percentage"),
		FixedFee:            viper.GetFloat64("fees." + method + ".fixed_fee"),
		FixedFeeWaiverBelow: viper.GetFloat64("fees." + method + ".fixed_fee_waiver_below"),
		Cap:                 viper.GetFloat64("fees." + method + ".cap"),
	}
}

func LoadPIN() *PIN {
	viper.SetDefault("pin.max_attempts", 5)
	viper.SetDefault("pin.lockout_minutes", 30)

	return &PIN{
		MaxAttempts:     viper.GetInt("pin.max_attempts"),
		LockoutDuration: time.Duration(viper.GetInt("pin.lockout_minutes")) * time.Minute,
	}
}

func LoadSquad() *Squad {
	viper.SetDefault("squad.base_url", "https://api-d.squadco.com")

	return &Squad{
		BaseURL:     viper.GetString("squad.base_url"),
		SecretKey:   viper.GetString("squad.secret_key"),
		CallbackURL: viper.GetString("squad.callback_url"),
	}
}

func LoadMailer() *Mailer {
	viper.SetDefault("mailer.api_url", "https://api.sendgrid.com/v3/mail/send")
	viper.SetDefault("mailer.from", "no-reply@unimart.ng")

	return &Mailer{
		APIURL: viper.GetString("mailer.api_url"),
		APIKey: viper.GetString("mailer.api_key"),
		From:   viper.GetString("mailer.from"),
	}
}
