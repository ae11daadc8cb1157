package ops

// Pagination and batch limits
const (
	DefaultListLimit    = 20
	MaxListLimit        = 100
	MaxBatchItems       = 500
	DefaultExplainTop   = 10
	MaxExplainTop       = 100
	exportSchemaVersion = "1.0"
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// normalizePage applies list defaults and caps.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
