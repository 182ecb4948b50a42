package flight

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// maxMessageSize leaves room for full score vectors of large vocabularies.
const maxMessageSize = 64 << 20

// Client wraps an Arrow Flight client for action calls and table uploads.
type Client struct {
	addr   string
	client flight.Client
}

// NewClient creates a client for addr (host:port). Call Connect before use.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) Addr() string { return c.addr }

// Connect creates the underlying gRPC connection. The connection is
// established lazily on the first call.
func (c *Client) Connect() error {
	if c.client != nil {
		return nil
	}
	client, err := flight.NewClientWithMiddleware(c.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	c.client = client
	return nil
}

// Close disconnects from the Flight server
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// DoAction runs a named action and returns the concatenated result bodies;
// servers may split one payload across several results.
func (c *Client) DoAction(ctx context.Context, actionType string, body []byte) ([]byte, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected, call Connect() first")
	}

	stream, err := c.client.DoAction(ctx, &flight.Action{Type: actionType, Body: body})
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", actionType, err)
	}

	var out []byte
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", actionType, err)
		}
		out = append(out, res.Body...)
	}
}

// Upload sends rec to the server under a path descriptor.
func (c *Client) Upload(ctx context.Context, path []string, rec arrow.Record) error {
	if c.client == nil {
		return fmt.Errorf("client not connected, call Connect() first")
	}

	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to create DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: path})

	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close DoPut stream: %w", err)
	}

	// drain put results so server-side errors surface here
	for {
		_, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("DoPut: %w", err)
		}
	}
}
