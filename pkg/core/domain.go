// Package core holds the contracts shared by manager builders, managers and
// repositories.
package core

// Criteria maps field names to the value they must match.
// A slice value matches any of its elements, a nil value matches null.
type Criteria map[string]any

// Direction is the sort direction of a Sort clause.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Sort orders results by a single field.
type Sort struct {
	Field string
	Dir   Direction
}

// Order is an ordered list of sort clauses.
type Order []Sort

// Asc builds an ascending sort clause.
func Asc(field string) Sort {
	return Sort{Field: field, Dir: Ascending}
}

// Desc builds a descending sort clause.
func Desc(field string) Sort {
	return Sort{Field: field, Dir: Descending}
}

// OrderBy is a shorthand to build an Order from clauses.
func OrderBy(sorts ...Sort) Order {
	return Order(sorts)
}
