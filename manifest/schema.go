// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/forensicanalysis/stixgo"
	"github.com/pkg/errors"
	"github.com/qri-io/jsonschema"
	"github.com/tidwall/gjson"
)

const observableSchema = "http://raw.githubusercontent.com/oasis-open/cti-stix2-json-schemas/stix2.1/schemas/observables/%s.json"

var (
	schemaOnce sync.Once
	schemaErr  error
)

// loadSchemas registers the STIX 2.1 schemas, converted to draft 2019-09.
func loadSchemas() {
	registry := jsonschema.GetSchemaRegistry()
	for name, content := range stixgo.FS {
		content = bytes.ReplaceAll(content, []byte(`"definitions"`), []byte(`"$defs"`))
		content = bytes.ReplaceAll(content, []byte(`"#/definitions/`), []byte(`"#/$defs/`))
		content = bytes.ReplaceAll(content,
			[]byte(`"$schema": "http://json-schema.org/draft-07/schema#",`),
			[]byte(`"$schema": "https://json-schema.org/draft/2019-09/schema#",`),
		)

		schema := &jsonschema.Schema{}
		if err := json.Unmarshal(content, schema); err != nil {
			schemaErr = errors.Wrapf(err, "could not parse schema %s", name)
			return
		}

		id, ok := schema.JSONProp("$id").(*jsonschema.ID)
		if !ok || id == nil {
			schemaErr = errors.Errorf("schema %s has no $id", name)
			return
		}
		schema.Resolve(nil, string(*id))
		registry.Register(schema)
	}
}

// validateSchema checks an element against the STIX observable schema of its
// type. Elements of types without a schema pass.
func validateSchema(element JSONElement) (flaws []string, err error) {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}

	elementType := gjson.GetBytes(element, "type")
	if !elementType.Exists() {
		return []string{"element needs to have a type"}, nil
	}

	schema := jsonschema.GetSchemaRegistry().GetKnown(fmt.Sprintf(observableSchema, elementType.String()))
	if schema == nil {
		return nil, nil
	}

	errs, err := schema.ValidateBytes(context.Background(), element)
	if err != nil {
		return nil, err
	}
	for _, verr := range errs {
		flaws = append(flaws, fmt.Sprintf("failed to validate element: %s", verr))
	}
	return flaws, nil
}
