// Package flowtype is the versioned catalog of flow definitions. Each
// (namespace, type, version) names the factory that builds its executable,
// the schema that validates submitted data, and the policies guarding its
// capabilities. Names are resolved when a request arrives, so changing a
// registration takes effect without migrating stored rows.
package flowtype

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/graflow/id"
)

// FlowType is one version of a flow definition.
type FlowType struct {
	ID        id.FlowTypeID `json:"id"`
	Namespace string        `json:"namespace"`
	Type      string        `json:"flow_type"`
	Version   string        `json:"version"`

	// IsLatest marks the version new runs use when none is requested. At
	// most one version of a (namespace, type) is latest.
	IsLatest bool `json:"is_latest"`
	IsActive bool `json:"is_active"`

	// Executable and Schema name registered factories.
	Executable string `json:"executable"`
	Schema     string `json:"schema,omitempty"`

	// Policy names resolved through a policy.Catalog.
	MutatePolicy   string `json:"mutate_policy,omitempty"`
	ResumePolicy   string `json:"resume_policy,omitempty"`
	MutateThrottle string `json:"mutate_throttle,omitempty"`
	ResumeThrottle string `json:"resume_throttle,omitempty"`

	DisplayName string    `json:"display_name,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Key renders "namespace:type:version".
func (f *FlowType) Key() string {
	return fmt.Sprintf("%s:%s:%s", f.Namespace, f.Type, f.Version)
}

// RunName renders the engine run name "namespace_type_version".
func (f *FlowType) RunName() string {
	return f.Namespace + "_" + f.Type + "_" + f.Version
}

// ListOpts controls flow type listing.
type ListOpts struct {
	Namespace  string
	Type       string
	ActiveOnly bool
	LatestOnly bool
}

// Store defines the persistence contract for flow types.
type Store interface {
	// CreateFlowType persists a new version. A duplicate triple returns
	// graflow.ErrFlowTypeExists; a second latest version returns
	// graflow.ErrLatestConflict.
	CreateFlowType(ctx context.Context, ft *FlowType) error

	// GetFlowType retrieves one version.
	GetFlowType(ctx context.Context, namespace, flowType, version string) (*FlowType, error)

	// GetLatestFlowType returns the latest version if it is active.
	GetLatestFlowType(ctx context.Context, namespace, flowType string) (*FlowType, error)

	// UpdateFlowType replaces the mutable fields of a version.
	UpdateFlowType(ctx context.Context, ft *FlowType) error

	// SetLatestFlowType atomically moves the latest mark to version.
	SetLatestFlowType(ctx context.Context, namespace, flowType, version string) error

	// ListFlowTypes returns versions ordered by namespace, type and version.
	ListFlowTypes(ctx context.Context, opts ListOpts) ([]*FlowType, error)
}
