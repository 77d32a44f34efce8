package promo

import (
	"sort"
	"strings"
)

// Arm identifies one mutually exclusive promotional strategy.
type Arm string

const (
	// ArmNoDiscount is the control arm.
	ArmNoDiscount Arm = "NoDiscount"
	// ArmGenericDiscount is a shelf-life tiered discount.
	ArmGenericDiscount Arm = "GenericDiscount"
	// ArmBOGO is buy-one-get-one.
	ArmBOGO Arm = "BOGO"
	// ArmEventBased is a competitor-matched discount timed to a calendar event.
	ArmEventBased Arm = "EventBased"
	// ArmExpiredClearance is a competitor-matched clearance of near-expiry stock.
	ArmExpiredClearance Arm = "ExpiredClearance"
)

// BuiltinArms lists the arms that ship with default magnitude rules.
func BuiltinArms() []Arm {
	return []Arm{ArmNoDiscount, ArmGenericDiscount, ArmBOGO, ArmEventBased, ArmExpiredClearance}
}

// String implements fmt.Stringer.
func (a Arm) String() string {
	return string(a)
}

// SortArms orders arms by name in place and returns the slice.
func SortArms(arms []Arm) []Arm {
	sort.Slice(arms, func(i, j int) bool { return arms[i] < arms[j] })
	return arms
}

// ParseArm returns the built-in arm matching name case-insensitively, or name itself for
// custom arms.
func ParseArm(name string) Arm {
	name = strings.TrimSpace(name)
	for _, arm := range BuiltinArms() {
		if strings.EqualFold(string(arm), name) {
			return arm
		}
	}
	return Arm(name)
}
