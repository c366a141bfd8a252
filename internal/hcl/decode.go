package hcl

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// DecodeArguments evaluates args and stores them into the fields of target,
// a pointer to a struct whose fields carry `arg:"name"` or
// `arg:"name,required"` tags. Fields of type hcl.Expression receive the raw
// expression unevaluated. Arguments with no matching field are rejected.
func DecodeArguments(args map[string]hcl.Expression, evalCtx *hcl.EvalContext, target any) error {
	structVal := reflect.ValueOf(target)
	if structVal.Kind() != reflect.Ptr || structVal.IsNil() || structVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a non-nil pointer to a struct")
	}
	structVal = structVal.Elem()
	structType := structVal.Type()
	exprType := reflect.TypeOf((*hcl.Expression)(nil)).Elem()

	known := make(map[string]struct{})
	for i := 0; i < structType.NumField(); i++ {
		fieldDef := structType.Field(i)
		fieldVal := structVal.Field(i)
		if !fieldDef.IsExported() || !fieldVal.CanSet() {
			continue
		}

		tag := strings.Split(fieldDef.Tag.Get("arg"), ",")
		name := tag[0]
		if name == "" || name == "-" {
			continue
		}
		required := len(tag) > 1 && tag[1] == "required"
		known[name] = struct{}{}

		expr, provided := args[name]
		if !provided {
			if required {
				return fmt.Errorf("missing required argument %q", name)
			}
			continue
		}

		if fieldDef.Type == exprType {
			fieldVal.Set(reflect.ValueOf(expr))
			continue
		}

		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return diags
		}
		if val.IsNull() {
			if required {
				return fmt.Errorf("%s: argument %q must not be null", expr.Range(), name)
			}
			continue
		}
		if !val.IsWhollyKnown() {
			return fmt.Errorf("%s: argument %q depends on a value that is not known yet", expr.Range(), name)
		}
		if err := decodeValue(val, fieldVal); err != nil {
			return fmt.Errorf("%s: argument %q: %w", expr.Range(), name, err)
		}
	}

	var unknown []string
	for name := range args {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unsupported argument(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

func decodeValue(val cty.Value, field reflect.Value) error {
	if field.Type() == reflect.TypeOf(cty.Value{}) {
		field.Set(reflect.ValueOf(val))
		return nil
	}
	ty, err := gocty.ImpliedType(reflect.Zero(field.Type()).Interface())
	if err != nil {
		return fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	converted, err := convert.Convert(val, ty)
	if err != nil {
		return err
	}
	return gocty.FromCtyValue(converted, field.Addr().Interface())
}

// EvalStrings evaluates every argument to a string. Lists and sets of
// primitives are joined with commas. Null values are omitted.
func EvalStrings(args map[string]hcl.Expression, evalCtx *hcl.EvalContext) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for name, expr := range args {
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, diags
		}
		if val.IsNull() {
			continue
		}
		s, err := stringify(val)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %q: %w", expr.Range(), name, err)
		}
		out[name] = s
	}
	return out, nil
}

func stringify(val cty.Value) (string, error) {
	if !val.IsWhollyKnown() {
		return "", fmt.Errorf("value is not known yet")
	}
	ty := val.Type()
	if ty.IsListType() || ty.IsSetType() || ty.IsTupleType() {
		var parts []string
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			s, err := stringify(elem)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	}
	converted, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", err
	}
	if converted.IsNull() {
		return "", nil
	}
	return converted.AsString(), nil
}

// ObjectVal converts a map of strings into an object value suitable for
// Scope.Set.
func ObjectVal(attrs map[string]string) cty.Value {
	vals := make(map[string]cty.Value, len(attrs))
	for k, v := range attrs {
		vals[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(vals)
}

// CheckArguments reports missing required and unsupported arguments for
// target without evaluating anything.
func CheckArguments(args map[string]hcl.Expression, target any) error {
	t := reflect.TypeOf(target)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("target must be a struct")
	}

	var errs []string
	known := make(map[string]struct{})
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("arg"), ",")
		if tag[0] == "" || tag[0] == "-" {
			continue
		}
		known[tag[0]] = struct{}{}
		if _, ok := args[tag[0]]; !ok && len(tag) > 1 && tag[1] == "required" {
			errs = append(errs, fmt.Sprintf("missing required argument %q", tag[0]))
		}
	}
	var unknown []string
	for name := range args {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		errs = append(errs, "unsupported argument(s): "+strings.Join(unknown, ", "))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
