package models

// Auction lifecycle. DRAFT auctions accept item seeding; ACTIVE auctions run
// rounds; the two *_REFUNDS states drive the refund worker toward the matching
// terminal state.
const (
	AuctionDraft             = "DRAFT"
	AuctionActive            = "ACTIVE"
	AuctionCompletingRefunds = "COMPLETING_REFUNDS"
	AuctionCancelingRefunds  = "CANCELING_REFUNDS"
	AuctionCompleted         = "COMPLETED"
	AuctionCancelled         = "CANCELLED"
)

// Round lifecycle. SETTLING is the settlement worker's claim: only the
// instance that won the LOCKED->SETTLING transition may settle the round.
const (
	RoundScheduled = "SCHEDULED"
	RoundLive      = "LIVE"
	RoundLocked    = "LOCKED"
	RoundSettling  = "SETTLING"
	RoundFinished  = "FINISHED"
)

const (
	ItemAvailable = "AVAILABLE"
	ItemAwarded   = "AWARDED"
)

const (
	OutboxNew       = "NEW"
	OutboxPublished = "PUBLISHED"
)

// Ledger entry types.
const (
	LedgerDeposit   = "DEPOSIT"
	LedgerReserve   = "BID_RESERVE"
	LedgerSpend     = "BID_SPEND"
	LedgerRefund    = "BID_REFUND"
	LedgerAdjust    = "ADJUST"
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"
)

const (
	AggregateRound   = "ROUND"
	AggregateAuction = "AUCTION"
)
