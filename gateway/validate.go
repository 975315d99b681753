package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Structural schema for module mutation bodies. Domain validation stays
// inside the owning module; the gateway rejects only shape problems it
// can judge without module knowledge.
const updateBodySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"minProperties": 1,
	"propertyNames": { "maxLength": 128 }
}`

const updateSchemaURL = "homey://gateway/update.json"

// validator holds the compiled request schemas and reports every
// violation of a body, not just the first.
type validator struct {
	update  *jsonschema.Schema
	printer *message.Printer
}

func newValidator() (*validator, error) {
	compiler := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(updateBodySchema))
	if err != nil {
		return nil, fmt.Errorf("parsing update schema: %w", err)
	}
	if err := compiler.AddResource(updateSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding update schema: %w", err)
	}
	schema, err := compiler.Compile(updateSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling update schema: %w", err)
	}

	return &validator{
		update:  schema,
		printer: message.NewPrinter(language.English),
	}, nil
}

// validateUpdate checks a decoded mutation body against the update
// schema. A nil return means the body is acceptable.
func (v *validator) validateUpdate(value any) []string {
	err := v.update.Validate(value)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	return v.flatten(verr)
}

// flatten walks the cause tree and renders one detail line per leaf
// violation, prefixed with the instance location.
func (v *validator) flatten(verr *jsonschema.ValidationError) []string {
	var details []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			details = append(details, fmt.Sprintf("%s: %s",
				instancePath(e.InstanceLocation), e.ErrorKind.LocalizedString(v.printer)))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return details
}

func instancePath(tokens []string) string {
	if len(tokens) == 0 {
		return "/"
	}
	return "/" + strings.Join(tokens, "/")
}
