package eventsourcing

import "github.com/google/uuid"

// idFunc is a global function that generates aggregate id's.
// It could be changed from the outside via the SetIDFunc function.
var idFunc = uuid.NewString

// SetIDFunc is used to change how aggregate ID's are generated
// default is a random UUID
func SetIDFunc(f func() string) {
	idFunc = f
}
