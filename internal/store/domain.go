package store

// Role is a named capability grouping held by a user. Role membership is
// read-only foreign state: this service consults it but never changes it.
type Role struct {
	ID   int64
	Name string
}
