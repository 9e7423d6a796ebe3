package types

import "strings"

// Store identifies which storefront a purchase originated from.
type Store string

const (
	StoreAppStore    Store = "app_store"
	StoreMacAppStore Store = "mac_app_store"
	StorePlayStore   Store = "play_store"
	StoreStripe      Store = "stripe"
	StorePromotional Store = "promotional"
	StoreUnknown     Store = "unknown"
)

// ParseStore normalizes a backend store string; unrecognized values map to unknown.
func ParseStore(raw string) Store {
	switch strings.ToLower(raw) {
	case "app_store":
		return StoreAppStore
	case "mac_app_store":
		return StoreMacAppStore
	case "play_store":
		return StorePlayStore
	case "stripe":
		return StoreStripe
	case "promotional":
		return StorePromotional
	default:
		return StoreUnknown
	}
}

// PeriodType describes which pricing phase a subscription period belongs to.
type PeriodType string

const (
	PeriodTypeNormal PeriodType = "normal"
	PeriodTypeIntro  PeriodType = "intro"
	PeriodTypeTrial  PeriodType = "trial"
)

// ParsePeriodType normalizes a backend period type; unrecognized values map to normal.
func ParsePeriodType(raw string) PeriodType {
	switch strings.ToLower(raw) {
	case "intro":
		return PeriodTypeIntro
	case "trial":
		return PeriodTypeTrial
	default:
		return PeriodTypeNormal
	}
}

// PaymentMode describes how a discounted price is applied.
type PaymentMode int

const (
	PaymentModeNone       PaymentMode = -1
	PaymentModePayAsYouGo PaymentMode = 0
	PaymentModePayUpFront PaymentMode = 1
	PaymentModeFreeTrial  PaymentMode = 2
)

// IntroDurationType distinguishes introductory pricing from free trials.
type IntroDurationType int

const (
	IntroDurationTypeNone       IntroDurationType = -1
	IntroDurationTypeIntroPrice IntroDurationType = 0
	IntroDurationTypeFreeTrial  IntroDurationType = 1
)

// IntroEligibilityStatus is the per-product answer of the eligibility check.
type IntroEligibilityStatus string

const (
	IntroEligibilityUnknown    IntroEligibilityStatus = "unknown"
	IntroEligibilityIneligible IntroEligibilityStatus = "ineligible"
	IntroEligibilityEligible   IntroEligibilityStatus = "eligible"
)

// ReceiptRefreshPolicy controls when the local receipt blob is refreshed
// before being read.
type ReceiptRefreshPolicy int

const (
	RefreshNever ReceiptRefreshPolicy = iota
	RefreshOnlyIfEmpty
	RefreshAlways
)
