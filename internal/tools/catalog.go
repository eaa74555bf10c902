package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Param describes one argument of a tool.
type Param struct {
	Type     string // "string", "integer" or "boolean"
	Required bool
}

// Schema is the namespaced description of a remote tool, used both as
// proposer input and to validate proposed arguments before execution.
type Schema struct {
	Name        string
	Description string
	Params      map[string]Param
}

// toolDescriptor is the wire shape served by the backends' GET /tools:
// input maps field names to "string", "int?", "bool" style markers where a
// trailing "?" means optional.
type toolDescriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Input       map[string]string `json:"input"`
}

// fetchTools loads one backend's catalog and namespaces the tool names.
func fetchTools(ctx context.Context, client *http.Client, baseURL, namespace string) ([]Schema, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s tools: %w", namespace, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{Status: resp.StatusCode, Message: fmt.Sprintf("tool listing for %s failed", namespace)}
	}

	var payload struct {
		Tools []toolDescriptor `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s tools: %w", namespace, err)
	}

	schemas := make([]Schema, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		name := t.Name
		if !strings.HasPrefix(name, namespace+".") {
			name = namespace + "." + name
		}
		schemas = append(schemas, Schema{
			Name:        name,
			Description: t.Description,
			Params:      convertParams(t.Input),
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas, nil
}

func convertParams(input map[string]string) map[string]Param {
	params := make(map[string]Param, len(input))
	for field, marker := range input {
		required := !strings.HasSuffix(marker, "?")
		base := strings.TrimSuffix(marker, "?")

		// Unrecognized markers (e.g. list[str]) are passed through untyped;
		// only scalar types are strict-checked before dispatch.
		jsonType := "any"
		switch base {
		case "str", "string":
			jsonType = "string"
		case "int", "integer":
			jsonType = "integer"
		case "bool", "boolean":
			jsonType = "boolean"
		}
		params[field] = Param{Type: jsonType, Required: required}
	}
	return params
}

// ValidateArgs checks proposed arguments against a tool schema. Proposer
// output is untrusted; anything malformed is rejected before it can reach a
// backend.
func ValidateArgs(schema Schema, args map[string]any) error {
	for field, p := range schema.Params {
		v, present := args[field]
		if !present || v == nil {
			if p.Required {
				return &ValidationError{Tool: schema.Name, Reason: fmt.Sprintf("missing required argument %q", field)}
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return &ValidationError{Tool: schema.Name, Reason: fmt.Sprintf("argument %q must be of type %s", field, p.Type)}
		}
	}
	return nil
}

// typeMatches tolerates the loose types JSON decoding produces (all numbers
// arrive as float64, integers sometimes as digit strings).
func typeMatches(want string, v any) bool {
	switch want {
	case "integer":
		switch x := v.(type) {
		case float64:
			return x == float64(int64(x))
		case int, int64:
			return true
		case string:
			return digitString(x)
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	default:
		return true
	}
}

func digitString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidationError marks proposer arguments that failed schema validation.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}
