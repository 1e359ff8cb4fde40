package gqlerrors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func TestClassificationCodes(t *testing.T) {
	cases := []struct {
		name string
		err  *QueryError
		code string
	}{
		{"syntax", NewSyntaxError(errors.New("Unexpected <EOF>")), CodeParseFailed},
		{"invalid request", NewInvalidRequest("Must provide query string."), CodeBadUserInput},
		{"apq not found", NewPersistedQueryNotFound(), CodePersistedQueryNotFound},
		{"apq not supported", NewPersistedQueryNotSupported(), CodePersistedQueryNotSupported},
		{"execution", NewExecutionError(errors.New("boom")), CodeInternal},
		{"internal", NewInternalError(errors.New("boom")), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Code(); got != tc.code {
				t.Errorf("code = %q, want %q", got, tc.code)
			}
		})
	}
}

func TestCodeIsNotOverwritten(t *testing.T) {
	inner := &gqlerror.Error{
		Message:    "bad value",
		Extensions: map[string]any{"code": CodeBadUserInput},
	}
	qe := NewExecutionError(inner)
	if qe.Code() != CodeBadUserInput {
		t.Errorf("code = %q, want existing %q preserved", qe.Code(), CodeBadUserInput)
	}
}

func TestLocationsAndPathPreserved(t *testing.T) {
	inner := &gqlerror.Error{
		Message:   "Cannot query field",
		Locations: []gqlerror.Location{{Line: 3, Column: 7}},
		Path:      ast.Path{ast.PathName("user"), ast.PathIndex(0)},
	}
	list := NewValidationErrors(gqlerror.List{inner})
	if len(list) != 1 {
		t.Fatalf("got %d errors", len(list))
	}
	qe := list[0]
	if len(qe.Locations) != 1 || qe.Locations[0].Line != 3 || qe.Locations[0].Column != 7 {
		t.Errorf("locations = %+v", qe.Locations)
	}
	if qe.Path.String() != "user[0]" {
		t.Errorf("path = %q", qe.Path.String())
	}
}

func TestMask(t *testing.T) {
	internal := NewInternalError(errors.New("pq: connection refused"))
	masked := Mask(internal, false)
	if masked.Message != "Internal server error" {
		t.Errorf("masked message = %q", masked.Message)
	}
	if masked.Code() != CodeInternal {
		t.Errorf("masked code = %q", masked.Code())
	}

	if got := Mask(internal, true); got.Message != "pq: connection refused" {
		t.Errorf("debug mask changed message to %q", got.Message)
	}

	user := NewInvalidRequest("Must provide query string.")
	if got := Mask(user, false); got.Message != user.Message {
		t.Errorf("non-internal error was masked: %q", got.Message)
	}
}

func TestIsPersistedQueryError(t *testing.T) {
	if !IsPersistedQueryError(NewPersistedQueryNotFound()) {
		t.Error("not-found should be a persisted query error")
	}
	if !IsPersistedQueryError(NewPersistedQueryNotSupported()) {
		t.Error("not-supported should be a persisted query error")
	}
	if IsPersistedQueryError(NewInvalidRequest("nope")) {
		t.Error("bad user input is not a persisted query error")
	}
}

func TestJSONShape(t *testing.T) {
	qe := NewPersistedQueryNotFound()
	b, err := json.Marshal(qe)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"message":"PersistedQueryNotFound","extensions":{"code":"PERSISTED_QUERY_NOT_FOUND"}}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	qe := NewInternalError(cause)
	if !errors.Is(qe, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}
