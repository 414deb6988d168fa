package flowtype

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/graflow"
)

// Definition declares a flow type version in code or configuration.
type Definition struct {
	Namespace      string `yaml:"namespace" json:"namespace"`
	Type           string `yaml:"type" json:"flow_type"`
	Version        string `yaml:"version" json:"version"`
	Executable     string `yaml:"executable" json:"executable"`
	Schema         string `yaml:"schema,omitempty" json:"schema,omitempty"`
	MutatePolicy   string `yaml:"mutate_policy,omitempty" json:"mutate_policy,omitempty"`
	ResumePolicy   string `yaml:"resume_policy,omitempty" json:"resume_policy,omitempty"`
	MutateThrottle string `yaml:"mutate_throttle,omitempty" json:"mutate_throttle,omitempty"`
	ResumeThrottle string `yaml:"resume_throttle,omitempty" json:"resume_throttle,omitempty"`
	DisplayName    string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Description    string `yaml:"description,omitempty" json:"description,omitempty"`
	Latest         bool   `yaml:"latest" json:"latest"`
	Active         *bool  `yaml:"active,omitempty" json:"active,omitempty"`
}

type definitionFile struct {
	FlowTypes []Definition `yaml:"flow_types"`
}

// LoadDefinitions reads a YAML document with a top-level flow_types list.
func LoadDefinitions(r io.Reader) ([]Definition, error) {
	var f definitionFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("flowtype: decode definitions: %w", err)
	}
	for i, d := range f.FlowTypes {
		if d.Namespace == "" || d.Type == "" || d.Version == "" || d.Executable == "" {
			return nil, fmt.Errorf("flowtype: definition %d: namespace, type, version and executable are required", i)
		}
	}
	return f.FlowTypes, nil
}

func (d Definition) apply(ft *FlowType) {
	ft.Executable = d.Executable
	ft.Schema = d.Schema
	ft.MutatePolicy = d.MutatePolicy
	ft.ResumePolicy = d.ResumePolicy
	ft.MutateThrottle = d.MutateThrottle
	ft.ResumeThrottle = d.ResumeThrottle
	ft.DisplayName = d.DisplayName
	ft.Description = d.Description
	ft.IsActive = d.Active == nil || *d.Active
}

// Sync upserts definitions. New versions are created; existing versions
// get their names and flags replaced. A definition marked latest takes the
// latest mark from any other version.
func (r *Registry) Sync(ctx context.Context, defs []Definition) error {
	for _, d := range defs {
		ft, err := r.Get(ctx, d.Namespace, d.Type, d.Version)
		switch {
		case errors.Is(err, graflow.ErrFlowTypeNotFound):
			ft = &FlowType{Namespace: d.Namespace, Type: d.Type, Version: d.Version}
			d.apply(ft)
			if err := r.Register(ctx, ft); err != nil {
				return fmt.Errorf("flowtype: sync %s: %w", ft.Key(), err)
			}
		case err != nil:
			return err
		default:
			d.apply(ft)
			ft.UpdatedAt = time.Now().UTC()
			if err := r.store.UpdateFlowType(ctx, ft); err != nil {
				return fmt.Errorf("flowtype: sync %s: %w", ft.Key(), err)
			}
		}
		if d.Latest && !ft.IsLatest {
			if err := r.MarkLatest(ctx, d.Namespace, d.Type, d.Version); err != nil {
				return fmt.Errorf("flowtype: sync %s: %w", ft.Key(), err)
			}
		}
		r.logger.Debug("flow type synced", slog.String("flow_type", ft.Key()))
	}
	return nil
}
