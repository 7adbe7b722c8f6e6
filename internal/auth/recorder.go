// ABOUTME: Recorder receives auth events for metrics collection
// ABOUTME: The default recorder discards everything

package auth

// Recorder observes resolution outcomes and lockouts.
type Recorder interface {
	Resolved(kind PrincipalKind)
	ResolutionFailed(kind ErrorKind)
	LockedOut()
}

type nopRecorder struct{}

func (nopRecorder) Resolved(PrincipalKind)     {}
func (nopRecorder) ResolutionFailed(ErrorKind) {}
func (nopRecorder) LockedOut()                 {}
