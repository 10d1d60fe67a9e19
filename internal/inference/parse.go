package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/validation"
)

// numericPattern accepts the strings strconv.ParseFloat accepts for finite
// decimal input, with surrounding whitespace.
const numericPattern = `^\s*[-+]?(\d+(\.\d*)?|\.\d+)([eE][-+]?\d+)?\s*$`

var requestSchema = validation.MustCompile(buildRequestSchema())

// RequestSchema returns the JSON Schema every JSON prediction body must satisfy.
func RequestSchema() string {
	return buildRequestSchema()
}

func buildRequestSchema() string {
	props := make(map[string]interface{}, NumFeatures)
	required := make([]string, 0, NumFeatures)
	for _, h := range FeatureHints {
		props[h.Name] = map[string]interface{}{
			"type":        []string{"number", "string"},
			"pattern":     numericPattern,
			"description": fmt.Sprintf("%s (typical %g to %g)", h.Description, h.Min, h.Max),
		}
		required = append(required, h.Name)
	}
	schema := map[string]interface{}{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"title":                "HeartRiskFeatures",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	out, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return string(out)
}

// ParseValues builds a FeatureVector from a lookup. It fails closed on the
// first absent or non-numeric column, in schema order.
func ParseValues(lookup func(name string) (string, bool)) (FeatureVector, error) {
	var fv FeatureVector
	for i, name := range FeatureColumns {
		raw, ok := lookup(name)
		if !ok {
			return FeatureVector{}, errors.NewMissingFieldError(name)
		}
		v, err := parseNumber(raw)
		if err != nil {
			return FeatureVector{}, errors.NewInvalidFieldError(name, raw)
		}
		fv[i] = v
	}
	return fv, nil
}

// ParseForm reads the columns from submitted form values.
func ParseForm(form url.Values) (FeatureVector, error) {
	return ParseValues(func(name string) (string, bool) {
		vals, ok := form[name]
		if !ok || len(vals) == 0 {
			return "", false
		}
		return vals[0], true
	})
}

// ParseMap reads the columns from decoded JSON or job variables. Values may
// be numbers or numeric strings; a null counts as missing.
func ParseMap(m map[string]interface{}) (FeatureVector, error) {
	var fv FeatureVector
	for i, name := range FeatureColumns {
		raw, ok := m[name]
		if !ok || raw == nil {
			return FeatureVector{}, errors.NewMissingFieldError(name)
		}
		v, err := numberFrom(raw)
		if err != nil {
			return FeatureVector{}, errors.NewInvalidFieldError(name, describe(raw))
		}
		fv[i] = v
	}
	return fv, nil
}

// ParseJSON validates a JSON request body against RequestSchema and converts it.
func ParseJSON(body []byte) (FeatureVector, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return FeatureVector{}, errors.NewInvalidPayloadError("request body is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return FeatureVector{}, errors.NewInvalidPayloadError(fmt.Sprintf("malformed JSON: %v", err))
	}
	if dec.More() {
		return FeatureVector{}, errors.NewInvalidPayloadError("unexpected data after JSON object")
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return FeatureVector{}, errors.NewInvalidPayloadError("request body must be a JSON object")
	}

	res, err := requestSchema.ValidateBytes(body)
	if err != nil {
		return FeatureVector{}, errors.NewInvalidPayloadError(err.Error())
	}
	if !res.Valid {
		return FeatureVector{}, schemaError(res, obj)
	}
	return ParseMap(obj)
}

// schemaError reports the first failing column in schema order so the
// message is stable regardless of validator ordering.
func schemaError(res *validation.ValidationResult, obj map[string]interface{}) error {
	for _, name := range FeatureColumns {
		for _, ve := range res.GetErrorsForField(name) {
			if ve.Code == "REQUIRED_FIELD_MISSING" {
				return errors.NewMissingFieldError(name)
			}
			return errors.NewInvalidFieldError(name, describe(obj[name]))
		}
	}
	if extra, ok := res.FirstByCode("EXTRA_FIELD"); ok {
		return errors.NewInvalidPayloadError(fmt.Sprintf("unknown field %q", extra.Field))
	}
	return errors.NewInvalidPayloadError(strings.Join(res.GetErrorMessages(), "; "))
}

func numberFrom(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		if !isFinite(v) {
			return 0, fmt.Errorf("not finite")
		}
		return v, nil
	case float32:
		return numberFrom(float64(v))
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return parseNumber(v.String())
	case string:
		return parseNumber(v)
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if !isFinite(v) {
		return 0, fmt.Errorf("not finite")
	}
	return v, nil
}

func describe(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return "null"
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	return string(out)
}
