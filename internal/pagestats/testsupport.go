package pagestats

// SetTestHeatScore overwrites a record's heat score directly. It is the one
// piece of cross-package test surface this package ships outside its own
// _test.go files, needed by internal/policy's heuristic tests to exercise
// Decide in isolation, against a table with no live policy loop recomputing
// the field out from under the test. It must not be used against a table
// owned by a running internal/manager: UpdateAllFeatures is the field's only
// other writer, and nothing serializes the two.
func (r *Record) SetTestHeatScore(h float64) {
	r.heatScore = h
}
