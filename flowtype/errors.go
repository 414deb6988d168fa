package flowtype

import (
	"fmt"

	"github.com/xraph/graflow"
)

// ConfigurationError reports a flow type whose registered names cannot be
// turned into working components. It wraps graflow.ErrConfiguration.
type ConfigurationError struct {
	Key    string
	Action string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("Error %s %s: %v", e.Action, e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{graflow.ErrConfiguration, e.Err}
}
