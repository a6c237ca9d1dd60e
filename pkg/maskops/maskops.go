// Package maskops implements combination of binary region-of-interest
// masks ahead of noise-component extraction. Multiple masks can be merged
// by union or intersection, passed through individually, or selected by
// index; the choice is an explicit tagged selection rather than a pair of
// optional fields.
package maskops

import (
	"fmt"

	"fmriconfounds/internal/models"
)

// Method enumerates the supported mask merge strategies.
type Method int

const (
	// MethodNone passes every mask through unmodified; each one is
	// processed independently downstream.
	MethodNone Method = iota

	// MethodUnion marks a voxel active when it is active in any mask.
	MethodUnion

	// MethodIntersect marks a voxel active only when it is active in
	// every mask.
	MethodIntersect
)

// String returns the configuration-file spelling of the method.
func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodUnion:
		return "union"
	case MethodIntersect:
		return "intersect"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod maps a configuration string onto a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "none":
		return MethodNone, nil
	case "union":
		return MethodUnion, nil
	case "intersect":
		return MethodIntersect, nil
	}
	return 0, &ConfigError{Reason: fmt.Sprintf("unknown mask merge method %q", s)}
}

// Selection describes how a list of masks should be reduced before
// extraction: either by merge method or by picking a single mask by index.
// Exactly one of the two modes applies; use ByMethod or ByIndex to build a
// valid value.
type Selection struct {
	useIndex bool
	index    int
	method   Method
}

// ByMethod selects merging with the given method.
func ByMethod(m Method) Selection {
	return Selection{method: m}
}

// ByIndex selects the single mask at the given position.
func ByIndex(i int) Selection {
	return Selection{useIndex: true, index: i}
}

// ConfigError reports an invalid mask-combination configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "mask configuration: " + e.Reason
}

// Combine reduces the mask list according to the selection. A single mask
// with no explicit selection passes through; more than one mask requires
// either an index or a merge method.
//
// All masks must share the same spatial shape; union and intersection are
// computed voxel-wise across the list.
func Combine(masks []*models.Mask, sel *Selection) ([]*models.Mask, error) {
	if len(masks) == 0 {
		return nil, &ConfigError{Reason: "no mask volumes provided"}
	}

	if sel == nil || sel.useIndex {
		idx := 0
		if sel != nil {
			idx = sel.index
		} else if len(masks) > 1 {
			return nil, &ConfigError{
				Reason: "when more than one mask is provided, a merge method or mask index must be specified",
			}
		}
		if idx < 0 || idx >= len(masks) {
			return nil, &ConfigError{
				Reason: fmt.Sprintf("mask index %d must be less than the number of masks (%d)", idx, len(masks)),
			}
		}
		return []*models.Mask{masks[idx]}, nil
	}

	for _, m := range masks[1:] {
		if m.Nx != masks[0].Nx || m.Ny != masks[0].Ny || m.Nz != masks[0].Nz {
			return nil, &ConfigError{
				Reason: fmt.Sprintf("masks to merge have mismatched shapes (%d, %d, %d) and (%d, %d, %d)",
					masks[0].Nx, masks[0].Ny, masks[0].Nz, m.Nx, m.Ny, m.Nz),
			}
		}
	}

	switch sel.method {
	case MethodNone:
		out := make([]*models.Mask, len(masks))
		copy(out, masks)
		return out, nil
	case MethodUnion:
		return []*models.Mask{merge(masks, func(a, b bool) bool { return a || b })}, nil
	case MethodIntersect:
		return []*models.Mask{merge(masks, func(a, b bool) bool { return a && b })}, nil
	}
	return nil, &ConfigError{Reason: fmt.Sprintf("unknown merge method %v", sel.method)}
}

// merge folds the mask list voxel-wise with the given boolean operator,
// using the first mask's geometry for the result.
func merge(masks []*models.Mask, op func(a, b bool) bool) *models.Mask {
	first := masks[0]
	out := &models.Mask{
		Data:   make([]bool, len(first.Data)),
		Nx:     first.Nx,
		Ny:     first.Ny,
		Nz:     first.Nz,
		Affine: first.Affine,
	}
	copy(out.Data, first.Data)
	for _, m := range masks[1:] {
		for i := range out.Data {
			out.Data[i] = op(out.Data[i], m.Data[i])
		}
	}
	return out
}
