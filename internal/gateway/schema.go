package gateway

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Per-kind credential schemas. An instance whose properties do not pass
// its kind's schema is rejected at save time, so a missing credential can
// never surface during a payment.
var kindSchemas = map[Kind]string{
	KindSaman: `{
		"type": "object",
		"required": ["merchant_id", "gateway_url", "verify_url"],
		"properties": {
			"merchant_id": {"type": "string", "minLength": 1},
			"gateway_url": {"type": "string", "minLength": 1},
			"verify_url":  {"type": "string", "minLength": 1}
		}
	}`,
	KindMellat: `{
		"type": "object",
		"required": ["merchant_id", "username", "password", "request_url", "verify_url", "gateway_url"],
		"properties": {
			"merchant_id": {"type": "string", "minLength": 1},
			"username":    {"type": "string", "minLength": 1},
			"password":    {"type": "string", "minLength": 1},
			"request_url": {"type": "string", "minLength": 1},
			"verify_url":  {"type": "string", "minLength": 1},
			"gateway_url": {"type": "string", "minLength": 1}
		}
	}`,
	KindBazaar: `{
		"type": "object",
		"required": ["client_id", "client_secret", "auth_code", "redirect_uri"],
		"properties": {
			"client_id":     {"type": "string", "minLength": 1},
			"client_secret": {"type": "string", "minLength": 1},
			"auth_code":     {"type": "string", "minLength": 1},
			"redirect_uri":  {"type": "string", "minLength": 1}
		}
	}`,
}

var compiledSchemas = func() map[Kind]*gojsonschema.Schema {
	out := make(map[Kind]*gojsonschema.Schema, len(kindSchemas))
	for kind, src := range kindSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("compiling %s credential schema: %v", kind, err))
		}
		out[kind] = schema
	}
	return out
}()

// ValidateProperties checks a raw properties document against the kind's
// credential schema and returns every violation in one error.
func ValidateProperties(kind Kind, raw []byte) error {
	schema, ok := compiledSchemas[kind]
	if !ok {
		return fmt.Errorf("unknown gateway kind %q", kind)
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s gateway properties are empty", kind)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validating %s gateway properties: %w", kind, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("invalid %s gateway properties: %s", kind, strings.Join(msgs, "; "))
}
