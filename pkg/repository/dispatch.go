package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/silo/internal/metrics"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

var supportingMethods = []string{"findBy", "findOneBy", "countBy", "removeBy", "removeOneBy"}

// Call dispatches a dynamic finder such as "findByEmail", "findOneByNameOrFail",
// "countByStatus" or "removeOneByToken". The first argument is the field value;
// the optional trailing arguments are a core.Order, up to two ints (limit then
// offset) and a bool (flush), where the target method accepts them.
//
// findBy calls return []any, findOneBy calls return the object (or nil),
// countBy calls return int64 and remove calls return nil.
func (r *Base) Call(ctx context.Context, method string, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: you need to pass a parameter to %s.%s", core.ErrBadMethodCall, r.md.Name, method)
	}

	supporting, err := supportingMethod(method)
	if err != nil {
		return nil, err
	}

	var field string
	switch {
	case strings.HasSuffix(method, "OrFail") && (supporting == "findBy" || supporting == "findOneBy"):
		field = method[len(supporting) : len(method)-len("OrFail")]
		supporting += "OrFail"
	case strings.HasSuffix(method, "OrGetNew") && supporting == "findOneBy":
		field = method[len(supporting) : len(method)-len("OrGetNew")]
		supporting = "findOneByOrGetNew"
	case supporting == "countBy":
		field = method[len("countBy"):]
		supporting = "count"
	default:
		field = method[len(supporting):]
	}

	metrics.DynamicCall(supporting)

	if supporting == "count" && field == "" {
		criteria, ok := toCriteria(args[0])
		if !ok || len(args) > 1 {
			return nil, fmt.Errorf("%w: %s.count expects a single criteria argument", core.ErrBadMethodCall, r.md.Name)
		}
		return r.Count(ctx, criteria)
	}

	name := metadata.FieldName(field)
	md := r.Metadata()
	if f, ok := md.Field(name); ok {
		name = f.Name
	} else if a, ok := md.Association(name); ok {
		name = a.Name
	} else {
		return nil, fmt.Errorf("%w: invalid call to %s.%s, field %q does not exist", core.ErrBadMethodCall, r.md.Name, supporting, name)
	}

	criteria := core.Criteria{name: args[0]}
	extra, err := parseTrailing(r.md.Name, supporting, args[1:])
	if err != nil {
		return nil, err
	}

	switch supporting {
	case "findBy":
		return r.FindBy(ctx, criteria, extra.order, extra.limit, extra.offset)
	case "findByOrFail":
		return r.FindByOrFail(ctx, criteria, extra.order, extra.limit, extra.offset)
	case "findOneBy":
		return r.FindOneBy(ctx, criteria, extra.order)
	case "findOneByOrFail":
		return r.FindOneByOrFail(ctx, criteria, extra.order)
	case "findOneByOrGetNew":
		return r.FindOneByOrGetNew(ctx, criteria, extra.order)
	case "count":
		return r.Count(ctx, criteria)
	case "removeBy":
		return nil, r.RemoveBy(ctx, criteria, extra.limit, extra.flush)
	default:
		return nil, r.RemoveOneBy(ctx, criteria, extra.order, extra.flush)
	}
}

func supportingMethod(method string) (string, error) {
	for _, m := range supportingMethods {
		if strings.HasPrefix(method, m) {
			return m, nil
		}
	}
	return "", fmt.Errorf(`%w: undefined method %q, method call must start with one of "%s"`,
		core.ErrBadMethodCall, method, strings.Join(supportingMethods, `", "`))
}

type trailing struct {
	order  core.Order
	limit  int
	offset int
	flush  bool
}

type accepts struct {
	order bool
	ints  int
	flush bool
}

var trailingArgs = map[string]accepts{
	"findBy":            {order: true, ints: 2},
	"findByOrFail":      {order: true, ints: 2},
	"findOneBy":         {order: true},
	"findOneByOrFail":   {order: true},
	"findOneByOrGetNew": {order: true},
	"count":             {},
	"removeBy":          {ints: 1, flush: true},
	"removeOneBy":       {order: true, flush: true},
}

func parseTrailing(class, method string, args []any) (trailing, error) {
	var out trailing
	allowed := trailingArgs[method]
	ints := 0

	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
		case core.Order:
			if !allowed.order {
				return out, unexpectedArg(class, method, arg)
			}
			out.order = v
		case core.Sort:
			if !allowed.order {
				return out, unexpectedArg(class, method, arg)
			}
			out.order = core.Order{v}
		case []core.Sort:
			if !allowed.order {
				return out, unexpectedArg(class, method, arg)
			}
			out.order = v
		case int:
			if ints >= allowed.ints {
				return out, unexpectedArg(class, method, arg)
			}
			if ints == 0 {
				out.limit = v
			} else {
				out.offset = v
			}
			ints++
		case bool:
			if !allowed.flush {
				return out, unexpectedArg(class, method, arg)
			}
			out.flush = v
		default:
			return out, unexpectedArg(class, method, arg)
		}
	}
	return out, nil
}

func unexpectedArg(class, method string, arg any) error {
	return fmt.Errorf("%w: unexpected argument %v (%T) to %s.%s", core.ErrBadMethodCall, arg, arg, class, method)
}

func toCriteria(v any) (core.Criteria, bool) {
	switch c := v.(type) {
	case core.Criteria:
		return c, true
	case map[string]any:
		return core.Criteria(c), true
	case nil:
		return core.Criteria{}, true
	}
	return nil, false
}
