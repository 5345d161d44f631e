package api

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/CeliaPro/ysm2-sub000/internal/core"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	compareSchemaFile = "schemas/compare_request.json"
	ingestSchemaFile  = "schemas/ingest_request.json"
)

// requestSchemas holds the compiled request body schemas.
type requestSchemas struct {
	compare *jsonschema.Schema
	ingest  *jsonschema.Schema
}

func loadRequestSchemas() (*requestSchemas, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema, 2)
	for _, name := range []string{compareSchemaFile, ingestSchemaFile} {
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("schema %s is not valid JSON: %w", name, err)
		}
		url := "mem:///" + name
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		compiled[name] = sch
	}
	return &requestSchemas{compare: compiled[compareSchemaFile], ingest: compiled[ingestSchemaFile]}, nil
}

// validateBody checks a raw JSON body against schema and reports failures
// as validation errors.
func validateBody(schema *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: request body is not valid JSON: %v", core.ErrValidation, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	return nil
}
