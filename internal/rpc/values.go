package rpc

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/rosnode-go/pkg/rpc"
)

// toValue converts a Go value into a structpb.Value. Unlike structpb.NewValue
// it accepts typed slices such as []string and [][]any.
func toValue(v any) (*structpb.Value, error) {
	switch x := v.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case *structpb.Value:
		return x, nil
	case []byte:
		return structpb.NewValue(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		values := make([]*structpb.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := toValue(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			values[i] = item
		}
		return structpb.NewListValue(&structpb.ListValue{Values: values}), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map keys must be strings, got %s", rv.Type().Key())
		}
		fields := make(map[string]*structpb.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := toValue(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			fields[iter.Key().String()] = item
		}
		return structpb.NewStructValue(&structpb.Struct{Fields: fields}), nil
	}

	return structpb.NewValue(v)
}

func encodeList(items []any) (*structpb.ListValue, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(items))}
	for i, item := range items {
		v, err := toValue(item)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		list.Values[i] = v
	}
	return list, nil
}

func decodeList(list *structpb.ListValue) []any {
	if list == nil {
		return nil
	}
	return list.AsSlice()
}

func encodeResponse(resp rpc.Response) (*structpb.ListValue, error) {
	return encodeList([]any{resp.Code, resp.Message, resp.Value})
}

func decodeResponse(list *structpb.ListValue) (rpc.Response, error) {
	items := decodeList(list)
	if len(items) < 2 {
		return rpc.Response{}, fmt.Errorf("%w: expected at least 2 elements, got %d", rpc.ErrMalformedResponse, len(items))
	}
	code, ok := rpc.AsInt(items[0])
	if !ok {
		return rpc.Response{}, fmt.Errorf("%w: status code %v is not an integer", rpc.ErrMalformedResponse, items[0])
	}
	message, ok := rpc.AsString(items[1])
	if !ok {
		return rpc.Response{}, fmt.Errorf("%w: message %v is not a string", rpc.ErrMalformedResponse, items[1])
	}
	resp := rpc.Response{Code: code, Message: message}
	if len(items) > 2 {
		resp.Value = items[2]
	}
	return resp, nil
}
