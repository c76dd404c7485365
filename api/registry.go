package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"open-pryv.io/core/apierror"
	"open-pryv.io/core/common"
)

// Params is the decoded request parameter map handed through the pipeline.
type Params map[string]interface{}

// Step is one unit of a method pipeline. Steps run sequentially; returning
// an error aborts the chain and surfaces the error unchanged. A step sees
// every mutation prior steps made to the context, params, and result.
type Step func(c *Context, params Params, result *Result) error

// Method is a registered method: an id and its ordered step chain.
type Method struct {
	ID    string
	Steps []Step
}

// Registry maps method ids to pipelines. Registration happens at boot and
// the registry is read-only afterwards.
type Registry struct {
	methods map[string]*Method
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Method)}
}

// Register installs a method pipeline. Registering the same id twice is a
// programming error and fatal at boot.
func (r *Registry) Register(methodID string, steps ...Step) {
	if _, exists := r.methods[methodID]; exists {
		common.Logger.Fatalf("method %q registered twice", methodID)
	}
	r.methods[methodID] = &Method{ID: methodID, Steps: steps}
}

// Has reports whether a method id is registered.
func (r *Registry) Has(methodID string) bool {
	_, ok := r.methods[methodID]
	return ok
}

// MethodIDs returns the registered ids (unordered).
func (r *Registry) MethodIDs() []string {
	ids := make([]string, 0, len(r.methods))
	for id := range r.methods {
		ids = append(ids, id)
	}
	return ids
}

// Call dispatches a method: runs its steps in order against the context,
// params, and result. Unclassified failures are wrapped as unexpected
// errors.
func (r *Registry) Call(c *Context, methodID string, params Params, result *Result) error {
	m, ok := r.methods[methodID]
	if !ok {
		return apierror.New(apierror.InvalidRequestStructure,
			fmt.Sprintf("Unknown method %q", methodID))
	}
	c.MethodID = methodID
	if params == nil {
		params = Params{}
	}
	for _, step := range m.Steps {
		if err := step(c, params, result); err != nil {
			return apierror.Wrap(err)
		}
	}
	return nil
}

// ValidateParams compiles the JSON schema at registration time and returns
// the validation step that always runs first in a pipeline. An invalid
// schema is a programming error and fatal at boot.
func ValidateParams(schemaJSON string) Step {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		common.Logger.Fatalf("invalid method params schema: %v", err)
	}
	if err := compiler.AddResource("params.json", doc); err != nil {
		common.Logger.Fatalf("invalid method params schema: %v", err)
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		common.Logger.Fatalf("invalid method params schema: %v", err)
	}

	return func(c *Context, params Params, result *Result) error {
		if err := schema.Validate(map[string]interface{}(params)); err != nil {
			return apierror.NewWithData(apierror.InvalidParametersFormat,
				"The parameters' format is invalid.",
				map[string]interface{}{"details": err.Error()})
		}
		return nil
	}
}
