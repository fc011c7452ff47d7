// Package rpc defines the request/response contracts shared by the registrar
// client and the per-node negotiation endpoint.
//
// Every call carries a method name and a positional argument list. Every reply
// has the shape [code, message, value], where code StatusSuccess (1) means the
// call succeeded and any other code is a failure whose message describes it.
//
// Arguments and values are plain Go values: strings, booleans, numbers, nil,
// slices and string-keyed maps. Transports may widen numbers on the wire (a
// reply port of 8080 can arrive as float64(8080)), so readers should use the
// accessors in this package (AsInt, AsString, AsList, AsStringList) instead of
// type assertions.
//
// Example usage:
//
//	client, err := dial("http://master:11311/")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	resp, err := client.Call(ctx, "getSystemState", "/my_node")
//	if err != nil {
//		return err
//	}
//	if !resp.OK() {
//		return fmt.Errorf("getSystemState failed: %s", resp.Message)
//	}
package rpc
