package kvservice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client for pagedb.KV.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := c.invoke(ctx, "Get", map[string]interface{}{"key": key})
	if err != nil {
		return "", false, err
	}
	f := out.GetFields()
	return f["value"].GetStringValue(), f["found"].GetBoolValue(), nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	_, err := c.invoke(ctx, "Set", map[string]interface{}{"key": key, "value": value})
	return err
}

func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	out, err := c.invoke(ctx, "Delete", map[string]interface{}{"key": key})
	if err != nil {
		return false, err
	}
	return out.GetFields()["deleted"].GetBoolValue(), nil
}

func (c *Client) Size(ctx context.Context) (int, error) {
	out, err := c.invoke(ctx, "Size", map[string]interface{}{})
	if err != nil {
		return 0, err
	}
	return int(out.GetFields()["size"].GetNumberValue()), nil
}

// Inspect returns the raw snapshot struct.
func (c *Client) Inspect(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "Inspect", map[string]interface{}{})
}
