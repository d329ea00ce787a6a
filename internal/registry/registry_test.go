package registry_test

import (
	"errors"
	"testing"

	"github.com/agenttrust/station/internal/registry"
	"github.com/agenttrust/station/pkg/models"
)

func searchDef() models.ActionDef {
	return models.ActionDef{
		Name:        "search",
		Description: "search for things",
		MinScore:    40,
		Parameters: map[string]models.ParamSpec{
			"query": {Type: models.ParamString, Required: true},
			"limit": {Type: models.ParamNumber, Required: false},
			"tags":  {Type: models.ParamArray, Required: false},
		},
		Handler: func(ctx models.ActionContext, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"results": []string{}}, nil
		},
	}
}

func TestList_StripsHandlersAndSorts(t *testing.T) {
	r := registry.New()
	r.Register(searchDef())
	r.Register(models.ActionDef{Name: "aardvark", MinScore: 0})

	views := r.List()
	if len(views) != 2 {
		t.Fatalf("List() returned %d actions, want 2", len(views))
	}
	if views[0].Name != "aardvark" {
		t.Errorf("List()[0].Name = %s, want aardvark (sorted)", views[0].Name)
	}
}

func TestValidate_MissingRequiredField(t *testing.T) {
	r := registry.New()
	r.Register(searchDef())

	violations, err := r.Validate("search", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("Validate() violations = %v, want 1 entry", violations)
	}
}

func TestValidate_TypeMismatchDistinguishesArrayFromObject(t *testing.T) {
	r := registry.New()
	r.Register(searchDef())

	violations, err := r.Validate("search", map[string]interface{}{
		"query": "hello",
		"tags":  map[string]interface{}{"not": "an array"},
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("Validate() violations = %v, want 1 entry", violations)
	}
	if got := violations[0]; got == "" {
		t.Fatal("expected a type-mismatch violation")
	}
}

func TestValidate_UnknownParameter(t *testing.T) {
	r := registry.New()
	r.Register(searchDef())

	violations, err := r.Validate("search", map[string]interface{}{
		"query":   "hello",
		"bogus":   true,
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	found := false
	for _, v := range violations {
		if v == "unknown parameter: bogus" {
			found = true
		}
	}
	if !found {
		t.Errorf("Validate() violations = %v, want unknown parameter entry", violations)
	}
}

func TestValidate_UnknownAction(t *testing.T) {
	r := registry.New()
	_, err := r.Validate("ghost", nil)
	if err == nil {
		t.Fatal("Validate() for unknown action returned no error")
	}
}

func TestExecute_Success(t *testing.T) {
	r := registry.New()
	r.Register(searchDef())

	result := r.Execute("search", map[string]interface{}{"query": "hi"}, models.ActionContext{Score: 50})
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
}

func TestExecute_UnknownAction(t *testing.T) {
	r := registry.New()
	result := r.Execute("ghost", nil, models.ActionContext{Score: 100})
	if result.Success {
		t.Fatal("Execute(unknown) succeeded, want failure")
	}
}

func TestExecute_ScoreBelowMinimum(t *testing.T) {
	r := registry.New()
	r.Register(searchDef())

	result := r.Execute("search", map[string]interface{}{"query": "hi"}, models.ActionContext{Score: 10})
	if result.Success {
		t.Fatal("Execute(low score) succeeded, want failure")
	}
}

func TestExecute_HandlerErrorBecomesErrorString(t *testing.T) {
	r := registry.New()
	r.Register(models.ActionDef{
		Name:     "fails",
		MinScore: 0,
		Handler: func(ctx models.ActionContext, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	})

	result := r.Execute("fails", nil, models.ActionContext{Score: 100})
	if result.Success || result.Error != "boom" {
		t.Errorf("Execute() = %+v, want error \"boom\"", result)
	}
}

func TestExecute_HandlerPanicIsTrapped(t *testing.T) {
	r := registry.New()
	r.Register(models.ActionDef{
		Name:     "panics",
		MinScore: 0,
		Handler: func(ctx models.ActionContext, params map[string]interface{}) (interface{}, error) {
			panic("unexpected")
		},
	})

	result := r.Execute("panics", nil, models.ActionContext{Score: 100})
	if result.Success {
		t.Fatal("Execute(panicking handler) succeeded, want trapped failure")
	}
}
