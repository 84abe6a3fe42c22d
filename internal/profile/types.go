package profile

// Hint names derived from sample content.
const (
	HintEmail   = "email_like"
	HintDate    = "date_like"
	HintPhone   = "phone_like"
	HintNumeric = "numeric_dtype"
)

// MaxSamples caps the number of distinct sample values kept per column.
const MaxSamples = 5

// ColumnProfile is the structural summary of one column. It is built once
// per column and not modified afterwards.
type ColumnProfile struct {
	Table    string   `json:"table"`
	Column   string   `json:"column"`
	DType    string   `json:"dtype"`
	RowCount int      `json:"row_count"`
	NullPct  float64  `json:"null_pct"`
	Distinct int      `json:"distinct"`
	Samples  []string `json:"samples"`
	Hints    []string `json:"hints"`
}

// Card pairs a profile with its rendered card text.
type Card struct {
	ColumnProfile
	Text string `json:"card_text"`
}
