package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// Issue is one validation finding. Path is dotted, e.g. "entities.0.name".
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Validate checks c against the embedded schema, then the cross-field rules
// the schema cannot express. It returns a *ValidationError.
func (c *Config) Validate() error {
	var issues []Issue

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			issues = append(issues, Issue{
				Path:    strings.TrimPrefix(strings.Join(e.Path(), "."), "#Config."),
				Message: fmt.Sprintf(format, args...),
			})
		}
	}

	seenName := map[string]int{}
	seenType := map[string]int{}
	for i, e := range c.Entities {
		if j, dup := seenName[e.Name]; dup && e.Name != "" {
			issues = append(issues, Issue{
				Path:    fmt.Sprintf("entities.%d.name", i),
				Message: fmt.Sprintf("duplicate entity %q (also entities.%d)", e.Name, j),
			})
		}
		if j, dup := seenType[e.RecordType]; dup && e.RecordType != "" {
			issues = append(issues, Issue{
				Path:    fmt.Sprintf("entities.%d.record_type", i),
				Message: fmt.Sprintf("record type %q already mirrored by entities.%d", e.RecordType, j),
			})
		}
		seenName[e.Name] = i
		seenType[e.RecordType] = i
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
