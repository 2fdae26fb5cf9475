package query

// TokenAmount is an amount in base units with its display rendering.
type TokenAmount struct {
	Token   string `json:"token"`
	Amount  string `json:"amount"`  // base units, decimal string
	Display string `json:"display"` // display units; equals Amount when decimals are unknown
}

// PositionResponse is an account's collateral and debt.
type PositionResponse struct {
	AccountID    string        `json:"account_id"`
	Collateral   []TokenAmount `json:"collateral"`
	Borrowed     TokenAmount   `json:"borrowed"`
	AsOfSequence int64         `json:"as_of_sequence"`
}

// BorrowHistoryEntry is one settled borrow.
type BorrowHistoryEntry struct {
	Sequence          int64       `json:"sequence"`
	CallID            string      `json:"call_id"`
	CollateralTokenID string      `json:"collateral_token_id"`
	Requested         TokenAmount `json:"requested"`
	Minted            TokenAmount `json:"minted"`
	Resolution        string      `json:"resolution"`
	SettledAt         int64       `json:"settled_at"`
}

type BorrowHistoryResponse struct {
	AccountID string               `json:"account_id"`
	Entries   []BorrowHistoryEntry `json:"entries"`
	Source    string               `json:"source"` // "cache" or "postgres"
}

// PendingMintResponse is a mint call that has not settled yet.
type PendingMintResponse struct {
	CallID            string      `json:"call_id"`
	AccountID         string      `json:"account_id"`
	CollateralTokenID string      `json:"collateral_token_id"`
	CollateralAmount  TokenAmount `json:"collateral_amount"`
	Desired           TokenAmount `json:"desired"`
	RequestedAt       int64       `json:"requested_at"`
}

// SystemStatus is the live state of the core.
type SystemStatus struct {
	Sequence        int64    `json:"sequence"`
	StateHash       string   `json:"state_hash"`
	Paused          bool     `json:"paused"`
	Blacklist       []string `json:"blacklist"`
	SupportedTokens []string `json:"supported_tokens"`
	PendingMints    int      `json:"pending_mints"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken is a token whose user balances do not sum to the matching
// external contra account.
type UnbalancedToken struct {
	Token         string `json:"token"`
	SubType       string `json:"sub_type"`
	UserTotal     string `json:"user_total"`
	ExternalTotal string `json:"external_total"`
}
