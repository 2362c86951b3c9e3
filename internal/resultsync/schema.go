package resultsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const resultPayloadSchemaURL = "results/payload.schema.json"

// resultPayloadSchema only covers numeric and period sanity. Business rules
// belong to the collaborator.
const resultPayloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["headquarters", "indicator", "year", "numerator", "denominator"],
  "properties": {
    "headquarters": {"$ref": "#/$defs/reference"},
    "indicator": {"$ref": "#/$defs/reference"},
    "numerator": {"$ref": "#/$defs/numeric"},
    "denominator": {
      "allOf": [
        {"$ref": "#/$defs/numeric"},
        {"not": {"enum": [0, "0"]}}
      ]
    },
    "calculatedValue": {"$ref": "#/$defs/numeric"},
    "year": {
      "anyOf": [
        {"type": "integer", "minimum": 1900, "maximum": 2100},
        {"type": "string", "pattern": "^(19[0-9]{2}|20[0-9]{2}|2100)$"}
      ]
    },
    "month": {
      "anyOf": [
        {"type": "integer", "minimum": 1, "maximum": 12},
        {"type": "string", "pattern": "^(0?[1-9]|1[0-2])$"}
      ]
    },
    "quarter": {
      "anyOf": [
        {"type": "integer", "minimum": 1, "maximum": 4},
        {"type": "string", "pattern": "^[1-4]$"}
      ]
    },
    "semester": {
      "anyOf": [
        {"type": "integer", "minimum": 1, "maximum": 2},
        {"type": "string", "pattern": "^[12]$"}
      ]
    }
  },
  "not": {
    "anyOf": [
      {"required": ["month", "quarter"]},
      {"required": ["month", "semester"]},
      {"required": ["quarter", "semester"]}
    ]
  },
  "$defs": {
    "reference": {
      "anyOf": [
        {"type": "integer", "minimum": 1},
        {"type": "object", "required": ["id"]}
      ]
    },
    "numeric": {
      "anyOf": [
        {"type": "number"},
        {"type": "string", "pattern": "^-?[0-9]+([.][0-9]+)?$"}
      ]
    }
  }
}`

type PayloadValidator struct {
	schema  *jsonschema.Schema
	printer *message.Printer
}

func NewPayloadValidator() (*PayloadValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultPayloadSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resultPayloadSchemaURL, doc); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(resultPayloadSchemaURL)
	if err != nil {
		return nil, err
	}
	return &PayloadValidator{
		schema:  schema,
		printer: message.NewPrinter(language.English),
	}, nil
}

// Validate checks a create/replace payload. Null-valued keys are treated as
// absent, since forms send every period field and null out the unused ones.
func (v *PayloadValidator) Validate(payload map[string]any) error {
	if v == nil {
		return nil
	}
	if payload == nil {
		return &ValidationError{Fields: map[string][]string{"non_field_errors": {"payload is required"}}}
	}
	pruned := make(map[string]any, len(payload))
	for key, value := range payload {
		if value != nil {
			pruned[key] = value
		}
	}
	data, err := json.Marshal(pruned)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	err = v.schema.Validate(inst)
	if err == nil {
		return nil
	}
	var schemaErr *jsonschema.ValidationError
	if !errors.As(err, &schemaErr) {
		return err
	}
	verr := &ValidationError{}
	v.collect(verr, schemaErr)
	if len(verr.Fields) == 0 {
		verr.add("non_field_errors", "payload is invalid")
	}
	return verr
}

func (v *PayloadValidator) collect(verr *ValidationError, e *jsonschema.ValidationError) {
	if len(e.Causes) > 0 {
		for _, cause := range e.Causes {
			v.collect(verr, cause)
		}
		return
	}
	field := strings.Join(e.InstanceLocation, ".")
	if required, ok := e.ErrorKind.(*kind.Required); ok {
		for _, missing := range required.Missing {
			verr.add(joinField(field, missing), "is required")
		}
		return
	}
	keywords := e.ErrorKind.KeywordPath()
	switch {
	case field == "" && len(keywords) > 0 && keywords[0] == "not":
		verr.add("period", "only one of month, quarter or semester may be set")
	case field == "denominator" && len(keywords) > 0 && keywords[len(keywords)-1] == "not":
		verr.add(field, "must not be zero")
	case field == "":
		verr.add("non_field_errors", e.ErrorKind.LocalizedString(v.printer))
	default:
		verr.add(field, e.ErrorKind.LocalizedString(v.printer))
	}
}

func joinField(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
