package pipeline

import (
	"encoding/json"

	"github.com/graphrelay/graphrelay/internal/gqlerrors"
)

// Response is a single GraphQL response. Data and HasData together encode the
// three states the wire format distinguishes: field absent (HasData false),
// explicit null (HasData true, Data nil), and a value.
type Response struct {
	Data       any
	HasData    bool
	Errors     []*gqlerrors.QueryError
	Extensions map[string]any
}

// HasErrors reports whether the response carries at least one error.
func (r *Response) HasErrors() bool {
	return len(r.Errors) > 0
}

// AddExtension attaches a response extension, allocating the map on first use.
func (r *Response) AddExtension(key string, value any) {
	if r.Extensions == nil {
		r.Extensions = map[string]any{}
	}
	r.Extensions[key] = value
}

type jsonResponse struct {
	Data       *any                    `json:"data,omitempty"`
	Errors     []*gqlerrors.QueryError `json:"errors,omitempty"`
	Extensions map[string]any          `json:"extensions,omitempty"`
}

// MarshalJSON omits the data key entirely when no execution result exists,
// but emits an explicit null when execution produced one.
func (r *Response) MarshalJSON() ([]byte, error) {
	out := jsonResponse{
		Errors:     r.Errors,
		Extensions: r.Extensions,
	}
	if r.HasData {
		data := r.Data
		out.Data = &data
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the HasData distinction from the wire form.
func (r *Response) UnmarshalJSON(b []byte) error {
	var in struct {
		Data       json.RawMessage         `json:"data"`
		Errors     []*gqlerrors.QueryError `json:"errors"`
		Extensions map[string]any          `json:"extensions"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	r.Errors = in.Errors
	r.Extensions = in.Extensions
	r.HasData = in.Data != nil
	r.Data = nil
	if r.HasData {
		if err := json.Unmarshal(in.Data, &r.Data); err != nil {
			return err
		}
	}
	return nil
}
