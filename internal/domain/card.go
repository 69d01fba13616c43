package domain

// Card is the closed set of notification payloads. Exactly one of the
// concrete variants below satisfies it; notifiers switch on the type.
type Card interface {
	isCard()
}

// DigestItem is one new announcement inside a digest card.
type DigestItem struct {
	Title   string
	Date    string
	Summary string
	URL     string
}

// NewItemCard announces a single new item (per_item notify mode).
type NewItemCard struct {
	Title   string
	Date    string
	Summary string
	URL     string
}

// DigestCard batches all new items of one run into one message.
type DigestCard struct {
	KeywordLabel   string
	ExecutionTime  string
	DurationSecs   int
	TotalNew       int
	TotalDuplicate int
	TotalProcessed int
	DaysLookback   int
	Items          []DigestItem
}

// SummaryCard reports run statistics without listing items.
type SummaryCard struct {
	ExecutionTime  string
	DurationSecs   int
	TotalProcessed int
	TotalNew       int
	TotalDuplicate int
}

// ErrorCard reports a failed run.
type ErrorCard struct {
	Timestamp string
	Message   string
}

func (NewItemCard) isCard() {}
func (DigestCard) isCard()  {}
func (SummaryCard) isCard() {}
func (ErrorCard) isCard()   {}
