package core

// DBOrdering represents a single ORDER BY term.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Pagination bounds list queries. A zero Limit means no limit.
type Pagination struct {
	Limit  int
	Offset int
}
