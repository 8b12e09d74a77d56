// Package genclient talks to the external generation sidecar over gRPC.
// The sidecar exposes a single Generate method; requests and responses
// travel as JSON so the sidecar can be implemented without a compiled
// schema on its side.
package genclient

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/axo-lotto/felt/go-pipeline/internal/emission"
)

// #endregion

// #region json-codec

// jsonCodec marshals gRPC messages as plain JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                            { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// #endregion json-codec

// #region wire-types

type generateRequest struct {
	Prompt      string `json:"prompt"`
	MaxWords    int    `json:"max_words"`
	FeltHint    string `json:"felt_hint"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// #endregion wire-types

// #region client

const generateMethod = "/felt.Generator/Generate"

// invoker abstracts conn.Invoke for testing without a live connection.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error
}

// Client implements emission.Generator against the generation sidecar.
type Client struct {
	conn *grpc.ClientConn
	inv  invoker
}

// New connects to the sidecar. The connection is lazy; failures surface
// on the first Generate call.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, inv: conn}, nil
}

// NewWithInvoker creates a Client with an injected transport. Used for
// testing without a real gRPC connection.
func NewWithInvoker(inv invoker) *Client {
	return &Client{inv: inv}
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Generate sends the prompt and constraints to the sidecar.
func (c *Client) Generate(ctx context.Context, prompt string, constraints emission.Constraints) (string, error) {
	req := &generateRequest{
		Prompt:   prompt,
		MaxWords: constraints.MaxWords,
		FeltHint: constraints.FeltHint,
	}
	resp := &generateResponse{}
	if err := c.inv.Invoke(ctx, generateMethod, req, resp); err != nil {
		return "", fmt.Errorf("generate rpc: %w", err)
	}
	if resp.Text == "" {
		return "", fmt.Errorf("generate rpc: empty response text")
	}
	return resp.Text, nil
}

// #endregion client
