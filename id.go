package graflow

import "github.com/xraph/graflow/id"

// ID is the primary identifier type for all graflow entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
