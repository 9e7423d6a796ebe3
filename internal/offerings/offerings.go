package offerings

import (
	"strings"

	"purchases/internal/store"
)

// PackageType classifies a package by its reserved identifier.
type PackageType int

const (
	PackageTypeUnknown PackageType = iota
	PackageTypeCustom
	PackageTypeLifetime
	PackageTypeAnnual
	PackageTypeSixMonth
	PackageTypeThreeMonth
	PackageTypeTwoMonth
	PackageTypeMonthly
	PackageTypeWeekly
)

var reservedPackageTypes = map[string]PackageType{
	"$rc_lifetime":    PackageTypeLifetime,
	"$rc_annual":      PackageTypeAnnual,
	"$rc_six_month":   PackageTypeSixMonth,
	"$rc_three_month": PackageTypeThreeMonth,
	"$rc_two_month":   PackageTypeTwoMonth,
	"$rc_monthly":     PackageTypeMonthly,
	"$rc_weekly":      PackageTypeWeekly,
}

// ParsePackageType classifies a package identifier. Reserved identifiers map
// to their duration type, other non-reserved identifiers are custom, and an
// unrecognized reserved-style identifier stays unknown.
func ParsePackageType(identifier string) PackageType {
	if t, ok := reservedPackageTypes[identifier]; ok {
		return t
	}
	if strings.HasPrefix(identifier, "$rc_") {
		return PackageTypeUnknown
	}
	return PackageTypeCustom
}

func (t PackageType) String() string {
	switch t {
	case PackageTypeLifetime:
		return "lifetime"
	case PackageTypeAnnual:
		return "annual"
	case PackageTypeSixMonth:
		return "six_month"
	case PackageTypeThreeMonth:
		return "three_month"
	case PackageTypeTwoMonth:
		return "two_month"
	case PackageTypeMonthly:
		return "monthly"
	case PackageTypeWeekly:
		return "weekly"
	case PackageTypeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Package pairs a presentable identifier with a resolved store product.
type Package struct {
	Identifier string
	Type       PackageType
	Product    store.Product
	OfferingID string
}

// Offering is an ordered grouping of packages configured on the backend.
type Offering struct {
	Identifier        string
	ServerDescription string
	AvailablePackages []Package
}

// Package returns the package with the given identifier, if present.
func (o *Offering) Package(identifier string) (Package, bool) {
	for _, p := range o.AvailablePackages {
		if p.Identifier == identifier {
			return p, true
		}
	}
	return Package{}, false
}

// Lifetime returns the $rc_lifetime package, if configured and resolved.
func (o *Offering) Lifetime() (Package, bool) { return o.byType(PackageTypeLifetime) }

// Annual returns the $rc_annual package, if configured and resolved.
func (o *Offering) Annual() (Package, bool) { return o.byType(PackageTypeAnnual) }

// Monthly returns the $rc_monthly package, if configured and resolved.
func (o *Offering) Monthly() (Package, bool) { return o.byType(PackageTypeMonthly) }

func (o *Offering) byType(t PackageType) (Package, bool) {
	for _, p := range o.AvailablePackages {
		if p.Type == t {
			return p, true
		}
	}
	return Package{}, false
}

// Offerings is the resolved container of all presentable offerings.
type Offerings struct {
	All               map[string]*Offering
	currentOfferingID string
}

// Current returns the backend-designated current offering. If that offering
// was dropped because none of its packages resolved, Current is nil rather
// than a fallback.
func (o *Offerings) Current() *Offering {
	if o.currentOfferingID == "" {
		return nil
	}
	return o.All[o.currentOfferingID]
}

// Offering looks up an offering by identifier.
func (o *Offerings) Offering(identifier string) *Offering {
	return o.All[identifier]
}
