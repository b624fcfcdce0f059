package workflow

import (
	"embed"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// ResourceLimits caps the workflow's container steps. Empty fields leave the
// template's own resource settings untouched.
type ResourceLimits struct {
	CPU    string
	Memory string
}

// Catalog loads workflow templates and fills them for submission. Templates
// are read-only inputs; Fill never mutates the catalogue.
type Catalog struct {
	fsys   fs.FS
	bucket string
}

// NewCatalog serves the embedded template set. All output artifacts are
// forced into the given bucket regardless of what a template declares.
func NewCatalog(bucket string) *Catalog {
	return &Catalog{fsys: templateFS, bucket: bucket}
}

// NewCatalogFS is NewCatalog over an arbitrary filesystem, for tests and
// operator-supplied template directories.
func NewCatalogFS(fsys fs.FS, bucket string) *Catalog {
	return &Catalog{fsys: fsys, bucket: bucket}
}

// Fill loads the named template and produces a submittable spec:
// declared step parameters are overwritten from params when present and
// non-empty (undeclared params are ignored), output artifact buckets are
// forced to the catalogue bucket, and resource limits are applied to every
// container step.
func (c *Catalog) Fill(name string, params map[string]string, limits ResourceLimits) (*Spec, error) {
	raw, err := fs.ReadFile(c.fsys, "templates/"+name+".yaml")
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, ErrTemplateNotFound)
	}

	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	for ti := range spec.Spec.Templates {
		tmpl := &spec.Spec.Templates[ti]

		if tmpl.Inputs != nil {
			for pi := range tmpl.Inputs.Parameters {
				param := &tmpl.Inputs.Parameters[pi]
				if v, ok := params[param.Name]; ok && v != "" {
					value := v
					param.Value = &value
				}
			}
		}

		if tmpl.Outputs != nil {
			for ai := range tmpl.Outputs.Artifacts {
				art := &tmpl.Outputs.Artifacts[ai]
				if art.S3 == nil {
					art.S3 = &S3Location{}
				}
				art.S3.Bucket = c.bucket
			}
		}

		if tmpl.Container != nil && (limits.CPU != "" || limits.Memory != "") {
			applyLimits(tmpl.Container, limits)
		}
	}

	return &spec, nil
}

// applyLimits sets both limits and requests for each supplied resource, so
// scheduled pods get guaranteed capacity matching their cap.
func applyLimits(container *Container, limits ResourceLimits) {
	if container.Resources == nil {
		container.Resources = &Resources{}
	}
	if container.Resources.Limits == nil {
		container.Resources.Limits = map[string]string{}
	}
	if container.Resources.Requests == nil {
		container.Resources.Requests = map[string]string{}
	}
	if limits.CPU != "" {
		container.Resources.Limits["cpu"] = limits.CPU
		container.Resources.Requests["cpu"] = limits.CPU
	}
	if limits.Memory != "" {
		container.Resources.Limits["memory"] = limits.Memory
		container.Resources.Requests["memory"] = limits.Memory
	}
}
