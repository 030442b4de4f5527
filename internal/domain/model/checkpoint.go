package model

// Checkpoint is the durable state written with every committed page. A run
// resumed from it continues with the first loan after Cursor.
type Checkpoint struct {
	Totals         CalculationSummary
	RunID          string
	Cursor         int64 // highest loan id committed
	PagesCommitted int
}

// RunProgress is reported after each committed page.
type RunProgress struct {
	RunID          string
	PortfolioID    int64
	PagesCommitted int
	LoansProcessed int
	LoansSkipped   int
}
