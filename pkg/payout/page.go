package payout

// Pagination selects a window of a listing or of the holder set.
type Pagination struct {
	PageIndex  int
	PageLength int
}

// Validate enforces pageIndex >= 0 and pageLength >= 1.
func (p Pagination) Validate() error {
	if p.PageIndex < 0 || p.PageLength < 1 {
		return ErrInvalidPagination
	}
	return nil
}

// Offset returns the number of items before the page.
func (p Pagination) Offset() int {
	return p.PageIndex * p.PageLength
}

// Page is one window of a listing.
type Page[T any] struct {
	Items      []T
	Total      int
	PageIndex  int
	PageLength int
}
