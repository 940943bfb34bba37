package models

import "time"

// Booking intent statuses.
const (
	IntentIncomplete = "incomplete"
	IntentSucceeded  = "succeeded"
)

// Booked service statuses.
const (
	ServicePending               = "pending"
	ServiceInProgress            = "in_progress"
	ServiceComplete              = "complete"
	ServiceCancellationRequested = "cancellation_requested"
	ServiceCanceled              = "canceled"
)

// Commission payment types and statuses.
const (
	PaymentTypeTeam      = "team"
	PaymentTypeAffiliate = "affiliate"
	PaymentTypeSales     = "sales"

	PaymentPending  = "pending"
	PaymentEligible = "eligible"
	PaymentPaid     = "paid"
)

// Booking payment (client charge) types and statuses.
const (
	BookingPaymentDeposit = "deposit"
	BookingPaymentFinal   = "final"

	BookingPaymentUnpaid = "unpaid"
	BookingPaymentPaid   = "paid"
)

// Rate types understood by the fee calculator. Any "per-<unit>" value is a
// per-unit rate, e.g. "per-word".
const (
	RateFlat       = "flat"
	RatePerUnitPfx = "per-"
)

// GuestClient marks an intent submitted without an account.
const GuestClient = "guest"

const (
	// DefaultAbandonedTimeout delay before the abandoned booking check fires.
	DefaultAbandonedTimeout = 10 * time.Minute

	// DefaultCancellationWindowDays days a client may request cancellation.
	DefaultCancellationWindowDays = 7

	// DefaultLockTTL upper bound for a single fan-out run.
	DefaultLockTTL = 2 * time.Minute

	// MoneyPlaces decimal places used for every persisted amount.
	MoneyPlaces = 2
)
