package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// A Request is a JSON object. Its fields are defined by the application; the
// server in package tcp expects a "verb" and optional "parameters".
type Request map[string]interface{}

// NewRequest returns a verb request, as understood by the server in package
// tcp.
func NewRequest(verb string, params map[string]interface{}) Request {
	req := Request{"verb": verb}
	if params != nil {
		req["parameters"] = params
	}
	return req
}

// Verb returns the "verb" field, or an empty string when it is missing or not
// a string.
func (req Request) Verb() string {
	verb, _ := req["verb"].(string)
	return verb
}

// Parameters returns the "parameters" field, or nil when it is missing or not
// an object.
func (req Request) Parameters() map[string]interface{} {
	params, _ := req["parameters"].(map[string]interface{})
	return params
}

// A Response is the answer to a Request.
type Response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Reason  *string                `json:"reason"`
}

// NewResponse returns a Response with no reason.
func NewResponse(success bool, message string, data map[string]interface{}) Response {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Response{Success: success, Message: message, Data: data}
}

// WithReason returns a copy of the Response with a reason.
func (res Response) WithReason(reason string) Response {
	res.Reason = &reason
	return res
}

// MarshalJSON always emits "data" as an object.
func (res Response) MarshalJSON() ([]byte, error) {
	type response Response
	if res.Data == nil {
		res.Data = map[string]interface{}{}
	}
	return json.Marshal(response(res))
}

// Violations describe why a payload does not have the expected shape, mapping
// each offending field to a description of the problem. An empty Violations
// means the payload is well formed.
type Violations map[string]string

// String implements the fmt.Stringer interface. Fields are sorted so that the
// output is stable.
func (v Violations) String() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, v[field]))
	}
	return strings.Join(parts, ", ")
}

// A Validator checks a decoded Request.
type Validator func(Request) Violations

// ValidateVerbRequest checks that a Request has a non-empty string "verb" and,
// if present, an object "parameters".
func ValidateVerbRequest(req Request) Violations {
	violations := Violations{}
	switch verb := req["verb"].(type) {
	case nil:
		violations["verb"] = "required field"
	case string:
		if verb == "" {
			violations["verb"] = "empty values not allowed"
		}
	default:
		violations["verb"] = "must be of string type"
	}
	if params, ok := req["parameters"]; ok && params != nil {
		if _, ok := params.(map[string]interface{}); !ok {
			violations["parameters"] = "must be of dict type"
		}
	}
	return violations
}

// decodeObject decodes a JSON object. The encoding/json package replaces
// invalid UTF-8 with U+FFFD, so it is rejected before decoding.
func decodeObject(data []byte) (map[string]interface{}, Violations) {
	if !utf8.Valid(data) {
		return nil, Violations{"": "invalid utf-8"}
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, Violations{"": fmt.Sprintf("invalid json: %v", err)}
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, Violations{"": "must be of dict type"}
	}
	return obj, nil
}

func decodeRequest(data []byte) (Request, Violations) {
	obj, violations := decodeObject(data)
	if len(violations) > 0 {
		return nil, violations
	}
	return Request(obj), nil
}

func decodeResponse(data []byte) (Response, Violations) {
	obj, violations := decodeObject(data)
	if len(violations) > 0 {
		return Response{}, violations
	}

	res := Response{Data: map[string]interface{}{}}
	violations = Violations{}
	if success, ok := obj["success"].(bool); ok {
		res.Success = success
	} else if _, present := obj["success"]; present {
		violations["success"] = "must be of boolean type"
	} else {
		violations["success"] = "required field"
	}
	if message, ok := obj["message"].(string); ok {
		res.Message = message
	} else if _, present := obj["message"]; present {
		violations["message"] = "must be of string type"
	} else {
		violations["message"] = "required field"
	}
	switch data := obj["data"].(type) {
	case nil:
	case map[string]interface{}:
		res.Data = data
	default:
		violations["data"] = "must be of dict type"
	}
	switch reason := obj["reason"].(type) {
	case nil:
	case string:
		res.Reason = &reason
	default:
		violations["reason"] = "must be of string type"
	}
	if len(violations) > 0 {
		return Response{}, violations
	}
	return res, nil
}
