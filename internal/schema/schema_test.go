package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecover(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr error
	}{
		{"plain object", `{"title": "A", "year": 2020}`, `{"title":"A","year":2020}`, nil},
		{"json fence", "```json\n{\"title\": \"A\"}\n```", `{"title":"A"}`, nil},
		{"bare fence", "```\n{\"title\": \"A\"}\n```", `{"title":"A"}`, nil},
		{"surrounding prose", "Here is the result:\n{\"title\": \"A\"}\nHope this helps.", `{"title":"A"}`, nil},
		{"keeps key order", `{"z": 1, "a": 2}`, `{"z":1,"a":2}`, nil},
		{"array", `[1, 2]`, `[1,2]`, nil},
		{"empty", "   ", "", ErrEmpty},
		{"no json", "I could not read the document.", "", ErrNoJSON},
		{"broken json", `{"title": "A"`, "", ErrNoJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Recover(tt.content)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Recover() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Recover() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPretty(t *testing.T) {
	out, err := Pretty([]byte(`{"a":{"b":1}}`))
	if err != nil {
		t.Fatalf("Pretty() error = %v", err)
	}
	want := "{\n  \"a\": {\n    \"b\": 1\n  }\n}\n"
	if string(out) != want {
		t.Errorf("Pretty() = %q, want %q", out, want)
	}
}

func TestValidator(t *testing.T) {
	t.Run("requires an object", func(t *testing.T) {
		v, err := NewValidator(Options{})
		if err != nil {
			t.Fatalf("NewValidator() error = %v", err)
		}
		if err := v.Validate([]byte(`[1,2]`)); err == nil {
			t.Error("expected error for array")
		}
		if err := v.Validate([]byte(`{}`)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("zero value requires an object", func(t *testing.T) {
		var v Validator
		if err := v.Validate([]byte(`"text"`)); err == nil {
			t.Error("expected error for string")
		}
	})

	t.Run("required fields", func(t *testing.T) {
		v, err := NewValidator(Options{RequiredFields: []string{"title", "authors"}})
		if err != nil {
			t.Fatalf("NewValidator() error = %v", err)
		}
		if err := v.Validate([]byte(`{"title":"A"}`)); err == nil {
			t.Error("expected error for missing authors")
		}
		if err := v.Validate([]byte(`{"title":"A","authors":[]}`)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("schema types", func(t *testing.T) {
		v, err := NewValidator(Options{Schema: []byte(`{
			"name": "paper",
			"schema": {
				"type": "object",
				"properties": {"year": {"type": "integer"}},
				"required": ["year"]
			}
		}`)})
		if err != nil {
			t.Fatalf("NewValidator() error = %v", err)
		}
		if err := v.Validate([]byte(`{"year":"2020"}`)); err == nil {
			t.Error("expected type error")
		}
		if err := v.Validate([]byte(`{"year":2020}`)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("invalid schema", func(t *testing.T) {
		if _, err := NewValidator(Options{Schema: []byte(`{"type": 12}`)}); err == nil {
			t.Error("expected compile error")
		}
	})
}

func TestValidator_Check(t *testing.T) {
	v, err := NewValidator(Options{RequiredFields: []string{"title"}})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := v.Check("```json\n{\"title\": \"Attention\"}\n```")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if string(doc) != `{"title":"Attention"}` {
		t.Errorf("Check() = %s", doc)
	}

	if _, err := v.Check("```json\n{\"name\": \"x\"}\n```"); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Errorf("expected schema mismatch, got %v", err)
	}
}

func TestLoadValidator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(path, []byte(`{"type":"object","required":["doi"]}`), 0644); err != nil {
		t.Fatal(err)
	}

	v, err := LoadValidator(path, nil)
	if err != nil {
		t.Fatalf("LoadValidator() error = %v", err)
	}
	if err := v.Validate([]byte(`{}`)); err == nil {
		t.Error("expected missing doi error")
	}

	if _, err := LoadValidator(filepath.Join(dir, "missing.json"), nil); err == nil {
		t.Error("expected error for missing schema file")
	}
}
