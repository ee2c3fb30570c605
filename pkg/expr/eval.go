package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// evaluator walks a parsed expression tree against one environment.
// It carries the source text so every error can name the failing expression.
type evaluator struct {
	src string
	env Env
}

func (ev *evaluator) errf(format string, args ...any) error {
	return &Error{Expr: ev.src, Msg: fmt.Sprintf(format, args...)}
}

func (ev *evaluator) expression(e *expression) (any, error) {
	left, err := ev.conjunction(e.Left)
	if err != nil {
		return nil, err
	}
	if len(e.Rest) == 0 {
		return left, nil
	}

	// Short-circuit disjunction. Operands must be booleans.
	b, ok := left.(bool)
	if !ok {
		return nil, ev.errf("left operand of || is %T, want bool", left)
	}
	if b {
		return true, nil
	}
	for _, term := range e.Rest {
		v, err := ev.conjunction(term)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, ev.errf("operand of || is %T, want bool", v)
		}
		if b {
			return true, nil
		}
	}
	return false, nil
}

func (ev *evaluator) conjunction(c *conjunction) (any, error) {
	left, err := ev.unary(c.Left)
	if err != nil {
		return nil, err
	}
	if len(c.Rest) == 0 {
		return left, nil
	}

	// Short-circuit conjunction. Operands must be booleans.
	b, ok := left.(bool)
	if !ok {
		return nil, ev.errf("left operand of && is %T, want bool", left)
	}
	if !b {
		return false, nil
	}
	for _, term := range c.Rest {
		v, err := ev.unary(term)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, ev.errf("operand of && is %T, want bool", v)
		}
		if !b {
			return false, nil
		}
	}
	return true, nil
}

func (ev *evaluator) unary(u *unary) (any, error) {
	if u.Not != nil {
		v, err := ev.unary(u.Not)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, ev.errf("operand of ! is %T, want bool", v)
		}
		return !b, nil
	}
	return ev.comparison(u.Comp)
}

func (ev *evaluator) comparison(c *comparison) (any, error) {
	left, err := ev.additive(c.Left)
	if err != nil {
		return nil, err
	}
	if c.Op == "" {
		return left, nil
	}
	right, err := ev.additive(c.Right)
	if err != nil {
		return nil, err
	}
	return ev.compare(c.Op, left, right)
}

func (ev *evaluator) compare(op string, left, right any) (any, error) {
	switch op {
	case "==":
		return ev.equal(left, right), nil
	case "!=":
		return !ev.equal(left, right), nil
	}

	// Ordering operators require two numbers or two strings.
	ln, lok := toFloat(left)
	rn, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}

	ls, lok := toString(left)
	rs, rok := toString(right)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	return nil, ev.errf("cannot compare %T %s %T", left, op, right)
}

// equal implements == across the value kinds the grammar can produce:
// null, booleans, numbers (normalized), and strings. Values of differing
// kinds are unequal rather than an error so `p0 == null` guards work.
func (ev *evaluator) equal(left, right any) bool {
	if isNil(left) || isNil(right) {
		return isNil(left) && isNil(right)
	}
	if ln, ok := toFloat(left); ok {
		if rn, ok := toFloat(right); ok {
			return ln == rn
		}
		return false
	}
	if ls, ok := toString(left); ok {
		if rs, ok := toString(right); ok {
			return ls == rs
		}
		return false
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb
		}
		return false
	}
	return reflect.DeepEqual(left, right)
}

func (ev *evaluator) additive(a *additive) (any, error) {
	left, err := ev.primary(a.Left)
	if err != nil {
		return nil, err
	}
	if len(a.Rest) == 0 {
		return left, nil
	}

	for _, term := range a.Rest {
		right, err := ev.primary(term)
		if err != nil {
			return nil, err
		}
		left, err = ev.add(left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

// add is numeric addition when both operands are numbers, and string
// concatenation of rendered values when either operand is a string.
// Concatenation is what makes key expressions like "'user:' + userId"
// work for any argument type.
func (ev *evaluator) add(left, right any) (any, error) {
	if ln, ok := toFloat(left); ok {
		if rn, ok := toFloat(right); ok {
			return ln + rn, nil
		}
	}
	if _, ok := toString(left); ok {
		return Render(left) + Render(right), nil
	}
	if _, ok := toString(right); ok {
		return Render(left) + Render(right), nil
	}
	return nil, ev.errf("cannot add %T + %T", left, right)
}

func (ev *evaluator) primary(p *primary) (any, error) {
	switch {
	case p.String != nil:
		return string(*p.String), nil
	case p.Number != nil:
		return *p.Number, nil
	case p.Bool != nil:
		return bool(*p.Bool), nil
	case p.Null:
		return nil, nil
	case p.Sub != nil:
		return ev.expression(p.Sub)
	case p.Selector != nil:
		return ev.selector(p.Selector)
	}
	return nil, ev.errf("empty expression term")
}

func (ev *evaluator) selector(s *selector) (any, error) {
	v, ok := ev.env[s.Root]
	if !ok {
		return nil, ev.errf("unknown identifier %q", s.Root)
	}
	for _, field := range s.Path {
		next, err := ev.selectField(v, field)
		if err != nil {
			return nil, err
		}
		v = next
	}
	return v, nil
}

// selectField resolves one step of a field access chain against a struct
// or string-keyed map, unwrapping pointers and interfaces first. A missing
// map key yields null; a missing or unexported struct field is an error.
func (ev *evaluator) selectField(base any, name string) (any, error) {
	if base == nil {
		return nil, ev.errf("cannot access field %q of null", name)
	}

	v := reflect.ValueOf(base)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, ev.errf("cannot access field %q of null", name)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		f := v.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			return nil, ev.errf("no exported field %q on %s", name, v.Type())
		}
		return f.Interface(), nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, ev.errf("cannot access field %q on map with %s keys", name, v.Type().Key())
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, nil
		}
		return mv.Interface(), nil
	default:
		return nil, ev.errf("cannot access field %q on %s", name, v.Type())
	}
}

// toFloat normalizes every numeric kind to float64.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// toString accepts string and string-kinded values.
func toString(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// isNil reports whether v is nil, including typed nils behind pointers,
// maps, slices, and interfaces.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// renderReflect handles Render for values outside the common fast paths.
func renderReflect(v any) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return Render(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts[i] = Render(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	case reflect.Map:
		if rv.IsNil() {
			return "null"
		}
	}
	return fmt.Sprintf("%v", v)
}
