// Package field defines the static question descriptors a flow is built
// from. A Descriptor names a field, its Kind, the kind-specific Constraints
// the schema composer turns into validation rules, the logical Step it
// belongs to, and an optional VisibleWhen rule evaluated against collected
// answers (see pkg/visibility/expr for the rule language).
package field
