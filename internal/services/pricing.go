package services

import (
	"math"

	"github.com/unimart/backend/internal/config"
	"github.com/unimart/backend/internal/models"
)

const (
	defaultCommissionRate = 0.10
	reverseEpsilon        = 0.01
)

// PricingService computes the three-way split of money between buyer,
// platform and seller. It is pure: all inputs come from the injected config
// and the call arguments, all results are rounded to 2 decimal places, and
// nothing here touches storage or the network.
type PricingService struct {
	cfg *config.Pricing
}

func NewPricingService(cfg *config.Pricing) *PricingService {
	return &PricingService{cfg: cfg}
}

// GatewayFee is the payment processor's cut for a single charge.
type GatewayFee struct {
	FeePercentage float64 `json:"feePercentage"`
	TotalFee      float64 `json:"totalFee"`
	CappedFee     float64 `json:"cappedFee"`
}

// WithdrawalDecision is the result of the withdrawal policy check.
type WithdrawalDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CommissionRate returns the configured platform commission, silently
// falling back to 10% when the value is unset or outside (0,1].
func (p *PricingService) CommissionRate() float64 {
	r := p.cfg.CommissionRate
	if r <= 0 || r > 1 {
		return defaultCommissionRate
	}
	return r
}

// CalculateGatewayFee computes the gateway fee for amount under the given
// payment method's schedule: percentage plus an optional fixed fee (waived
// below a threshold), capped at the schedule maximum. Unknown methods fall
// back to the card schedule, the most expensive one.
func (p *PricingService) CalculateGatewayFee(amount float64, paymentMethod string) GatewayFee {
	rule, ok := p.cfg.Fees[paymentMethod]
	if !ok {
		rule = p.cfg.Fees[config.MethodCard]
	}

	fee := amount * rule.Percentage
	if rule.FixedFee > 0 && amount >= rule.FixedFeeWaiverBelow {
		fee += rule.FixedFee
	}

	total := round2(fee)
	capped := total
	if rule.Cap > 0 && capped > rule.Cap {
		capped = rule.Cap
	}

	return GatewayFee{
		FeePercentage: rule.Percentage,
		TotalFee:      total,
		CappedFee:     capped,
	}
}

// CalculateFromSellerPrice is the forward calculation: commission and
// gateway fee are both computed on the seller's desired price, the buyer
// pays all of it, and the seller's receipt is reduced by the commission
// only. The buyer absorbing 100% of the payment-processing cost is business
// policy, not an accident.
func (p *PricingService) CalculateFromSellerPrice(sellerPrice float64, paymentMethod string) models.PricingBreakdown {
	rate := p.CommissionRate()
	commission := round2(sellerPrice * rate)
	fee := p.CalculateGatewayFee(sellerPrice, paymentMethod).CappedFee

	return models.PricingBreakdown{
		SellerPrice:        round2(sellerPrice),
		PlatformCommission: commission,
		PaymentFee:         fee,
		BuyerPays:          round2(sellerPrice + commission + fee),
		SellerReceives:     round2(sellerPrice - commission),
		CommissionRate:     rate,
	}
}

// CalculateFromBuyerPrice recovers a seller price from a buyer-facing total.
// Because the gateway fee depends on the unknown seller price, there is no
// general closed form once fixed fees and caps are involved; we run a
// bounded fixed-point iteration and then a final forward pass so the
// returned breakdown is self-consistent. Known limitation: near a fee-cap or
// waiver boundary the iteration can settle one branch away from the exact
// inverse, so round-tripping buyer->seller->buyer carries a residual of up
// to about one Naira.
func (p *PricingService) CalculateFromBuyerPrice(buyerPrice float64, paymentMethod string) models.PricingBreakdown {
	rate := p.CommissionRate()

	maxIter := p.cfg.ReverseMaxIterations
	if maxIter < 1 {
		maxIter = 1
	}

	est := buyerPrice / (1 + rate)
	for i := 0; i < maxIter; i++ {
		fee := p.CalculateGatewayFee(est, paymentMethod).CappedFee
		next := (buyerPrice - fee) / (1 + rate)
		converged := math.Abs(next-est) < reverseEpsilon
		est = next
		if converged {
			break
		}
	}

	return p.CalculateFromSellerPrice(round2(est), paymentMethod)
}

// CalculateNegotiationPricing prices an accepted negotiation offer. The
// agreed offer price takes the place of the seller's listed price.
func (p *PricingService) CalculateNegotiationPricing(offerPrice float64, paymentMethod string) models.PricingBreakdown {
	return p.CalculateFromSellerPrice(offerPrice, paymentMethod)
}

// IsWithdrawalAllowed applies the withdrawal policy: the amount must be
// covered by the available balance, and unverified users are capped at a
// configured limit. Pure policy check, no mutation.
func (p *PricingService) IsWithdrawalAllowed(amount float64, isVerified bool, balance float64) WithdrawalDecision {
	if amount > balance {
		return WithdrawalDecision{Allowed: false, Reason: "Insufficient balance"}
	}

	if !isVerified && amount > p.cfg.UnverifiedWithdrawalCap {
		return WithdrawalDecision{
			Allowed: false,
			Reason:  "Unverified accounts cannot withdraw more than the verification limit. Verify your campus ID to lift it.",
		}
	}

	return WithdrawalDecision{Allowed: true}
}
