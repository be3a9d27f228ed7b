// Package types defines the stable error categories shared by the CIL
// rewriting packages.
//
// Errors carry a closed ErrKind, the pipeline Stage that failed, a Reason and,
// where meaningful, the offending byte range. Callers match them with
// errors.Is against a sentinel or a partially filled *Error:
//
//	if errors.Is(err, &types.Error{Kind: types.ErrKindPlanning, Stage: types.StageNativeAllocation}) {
//	    // native tables did not fit
//	}
//
// This package has no dependencies beyond the standard library.
package types
