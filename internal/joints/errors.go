package joints

import "fmt"

// InsufficientMotionError reports that a fit did not retain enough usable
// samples, either after input masking or after consensus inlier selection.
type InsufficientMotionError struct {
	Estimator string
	Needed    int
	Got       int
	Detail    string
}

func (e *InsufficientMotionError) Error() string {
	return fmt.Sprintf("joints: %s: insufficient motion: %d samples retained, %d required (%s)",
		e.Estimator, e.Got, e.Needed, e.Detail)
}

// DegenerateGeometryError reports a near-singular configuration in which the
// joint parameter is unobservable, such as near-zero angular velocity
// throughout a trial.
type DegenerateGeometryError struct {
	Estimator string
	Detail    string
}

func (e *DegenerateGeometryError) Error() string {
	return fmt.Sprintf("joints: %s: degenerate geometry: %s", e.Estimator, e.Detail)
}
