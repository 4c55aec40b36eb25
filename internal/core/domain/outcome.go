package domain

// TransactionOutcome is the transient result of one orchestrated submission.
type TransactionOutcome struct {
	Submitted     bool   `json:"submitted"`
	TransactionID string `json:"transaction_id,omitempty"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	Err           error  `json:"-"`
}

// Included reports whether the transaction made it into a block.
func (o *TransactionOutcome) Included() bool {
	return o != nil && o.Submitted && o.Err == nil && o.BlockNumber > 0
}
