package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"github.com/travel-sense/server/internal/agent/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Tool is one registered tool: its schema, its retrieval document and its handler.
type Tool struct {
	Name   string
	Desc   string
	Params map[string]*schema.ParameterInfo
	// Document is the natural-language text indexed for retrieval.
	Document string

	run func(ctx context.Context, args map[string]any) (model.Envelope, error)
}

// Info returns the eino tool schema.
func (t *Tool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.Name,
		Desc:        t.Desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(t.Params),
	}
}

// JSONSchema renders the parameters as a JSON schema object for prompts.
func (t *Tool) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := []string{}
	for _, name := range sortedKeys(t.Params) {
		p := t.Params[name]
		props[name] = paramSchema(p)
		if p.Required {
			required = append(required, name)
		}
	}
	return map[string]any{
		"title":      t.Name,
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func paramSchema(p *schema.ParameterInfo) map[string]any {
	out := map[string]any{"type": string(p.Type)}
	if p.Desc != "" {
		out["description"] = p.Desc
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.ElemInfo != nil {
		out["items"] = paramSchema(p.ElemInfo)
	}
	return out
}

// defaulter is implemented by requests whose optional fields have non-zero defaults.
type defaulter interface {
	setDefaults()
}

// Define binds a typed request to a tool. Arguments are decoded into a fresh In
// (defaults applied first) and validated with its `validate` tags before h runs.
func Define[In any](name, desc string, params map[string]*schema.ParameterInfo,
	h func(ctx context.Context, in *In) (model.Envelope, error)) *Tool {
	return &Tool{
		Name:   name,
		Desc:   desc,
		Params: params,
		run: func(ctx context.Context, args map[string]any) (model.Envelope, error) {
			in := new(In)
			if d, ok := any(in).(defaulter); ok {
				d.setDefaults()
			}
			if err := decodeArgs(args, in); err != nil {
				msg := err.Error()
				return model.Failure("Invalid payload: "+msg, msg), nil
			}
			if err := validate.Struct(in); err != nil {
				msg := describeValidation(err)
				return model.Failure("Invalid payload: "+msg, msg), nil
			}
			return h(ctx, in)
		},
	}
}

func decodeArgs(args map[string]any, dst any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%s must be %s, got %s", typeErr.Field, typeErr.Type.String(), typeErr.Value)
		}
		return err
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "min", "gte":
			parts = append(parts, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max", "lte":
			parts = append(parts, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// Registry is the static tool catalogue, built once at startup.
type Registry struct {
	tools map[string]*Tool
	order []string
}

func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if err := r.add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("duplicate tool %q", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names lists tools in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Documents maps tool names to their retrieval documents.
func (r *Registry) Documents() map[string]string {
	out := make(map[string]string, len(r.tools))
	for name, t := range r.tools {
		out[name] = t.Document
	}
	return out
}

// Infos returns the schemas of the named tools, skipping unknown names.
// With no names it returns every tool.
func (r *Registry) Infos(names ...string) []*schema.ToolInfo {
	if len(names) == 0 {
		names = r.order
	}
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t.Info())
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
