package generator

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// profileArraySchema constrains the meta-analyzer's emitted JSON before
// step 3's coercion runs (§4.9), hardening the generator against a
// model that returns malformed or wildly out-of-range output. Grounded
// on zkoranges-go-claw's use of santhosh-tekuri/jsonschema/v6 to validate
// LLM-emitted structured output before it's trusted downstream.
const profileArraySchemaJSON = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["role"],
		"properties": {
			"role": {"type": "string"},
			"specialization": {"type": "string"},
			"focus": {"type": "string"},
			"capabilities": {"type": "array", "items": {"type": "string"}},
			"priority": {"type": "number"},
			"reasoningDepth": {"type": "string"}
		}
	}
}`

// profileSchema is profileArraySchemaJSON compiled once at package init
// by mustCompileSchema; a compile failure here is a programming error, not a runtime
// condition, so it panics the same way the teacher's MustRegister does
// for malformed static configuration.
var profileSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("profile-array.json", strings.NewReader(profileArraySchemaJSON)); err != nil {
		panic("generator: invalid embedded profile schema: " + err.Error())
	}
	sch, err := c.Compile("profile-array.json")
	if err != nil {
		panic("generator: failed to compile profile schema: " + err.Error())
	}
	return sch
}

// validateProfileArray reports a schema error if raw (already
// json.Unmarshal'd into []interface{}/map[string]interface{}) doesn't
// match the expected shape.
func validateProfileArray(raw interface{}) error {
	return profileSchema.Validate(raw)
}
