package domain

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceNone   Confidence = "NONE"
)

// AccountCandidate is one scored account for a parsed transaction.
type AccountCandidate struct {
	AccountID string `json:"account_id"`
	Score     int    `json:"score"`
	Reason    string `json:"reason"`
}

// SuggestedAccount carries what is needed to create an account in one step.
type SuggestedAccount struct {
	Name           string      `json:"name"`
	Type           AccountType `json:"type"`
	BankCode       *string     `json:"bank_code,omitempty"`
	BankName       *string     `json:"bank_name,omitempty"`
	Last4          *string     `json:"last4,omitempty"`
	SenderPatterns []string    `json:"sender_patterns"`
	Color          string      `json:"color,omitempty"`
}

// MatchResult ranks every linked account for one parsed transaction.
type MatchResult struct {
	MatchedAccountID    *string            `json:"matched_account_id,omitempty"`
	Confidence          Confidence         `json:"confidence"`
	SuggestedNewAccount *SuggestedAccount  `json:"suggested_new_account,omitempty"`
	AllCandidates       []AccountCandidate `json:"all_candidates"`
}

// TopScore returns the best candidate score, or zero.
func (m MatchResult) TopScore() int {
	if len(m.AllCandidates) == 0 {
		return 0
	}
	return m.AllCandidates[0].Score
}
