package bazaar

import (
	"strings"
	"testing"
)

func TestDeclareBuildsExtensionEntry(t *testing.T) {
	entry := Declare("get", "quarterly report", map[string]interface{}{
		"queryParams": map[string]interface{}{"quarter": "Q3"},
	})

	declaration, ok := entry[Key].(Declaration)
	if !ok {
		t.Fatalf("entry missing %q declaration: %+v", Key, entry)
	}
	if declaration.Info["method"] != "GET" {
		t.Errorf("method should be upper-cased, got %v", declaration.Info["method"])
	}
	if declaration.Info["description"] != "quarterly report" {
		t.Errorf("unexpected description: %v", declaration.Info["description"])
	}
}

func TestValidateAgainstSchema(t *testing.T) {
	declaration := Declaration{
		Info: map[string]interface{}{
			"method":      "GET",
			"description": "quarterly report",
		},
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"method", "description"},
			"properties": map[string]interface{}{
				"method":      map[string]interface{}{"type": "string"},
				"description": map[string]interface{}{"type": "string"},
			},
		},
	}

	if err := Validate(declaration); err != nil {
		t.Fatalf("valid declaration rejected: %v", err)
	}

	delete(declaration.Info, "description")
	err := Validate(declaration)
	if err == nil {
		t.Fatal("expected validation failure for missing description")
	}
	if !strings.Contains(err.Error(), "description") {
		t.Errorf("error should name the missing property: %v", err)
	}
}

func TestValidateWithoutSchema(t *testing.T) {
	if err := Validate(Declaration{Info: map[string]interface{}{"method": "GET"}}); err != nil {
		t.Fatalf("schemaless declaration should pass: %v", err)
	}
}
