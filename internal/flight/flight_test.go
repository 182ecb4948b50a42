package flight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer()
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(srv.Stop)
	return srv
}

func connect(t *testing.T, addr string) *Client {
	t.Helper()
	c := NewClient(addr)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDoAction(t *testing.T) {
	srv := startServer(t)
	srv.HandleAction("echo", func(_ context.Context, body []byte) ([]byte, error) {
		return []byte(strings.ToUpper(string(body))), nil
	})
	srv.HandleAction("fail", func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("model unavailable")
	})

	c := connect(t, srv.Addr())
	ctx := context.Background()

	out, err := c.DoAction(ctx, "echo", []byte("bonjour"))
	require.NoError(t, err)
	assert.Equal(t, "BONJOUR", string(out))

	_, err = c.DoAction(ctx, "fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")

	_, err = c.DoAction(ctx, "missing", nil)
	assert.Error(t, err)
}

func TestNotConnected(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	_, err := c.DoAction(context.Background(), "echo", nil)
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}

func TestUpload(t *testing.T) {
	srv := startServer(t)

	var (
		mu       sync.Mutex
		gotPath  []string
		gotRows  int64
		gotField string
	)
	srv.HandlePut(func(_ context.Context, path []string, schema *arrow.Schema, recs []arrow.Record) error {
		mu.Lock()
		defer mu.Unlock()
		gotPath = path
		gotField = schema.Field(0).Name
		for _, rec := range recs {
			gotRows += rec.NumRows()
		}
		return nil
	})

	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "entropy", Type: arrow.PrimitiveTypes.Float64}}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues([]float64{0.1, 0.2, 0.3}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	c := connect(t, srv.Addr())
	require.NoError(t, c.Upload(context.Background(), []string{"entropies", "X-a-fini"}, rec))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"entropies", "X-a-fini"}, gotPath)
	assert.EqualValues(t, 3, gotRows)
	assert.Equal(t, "entropy", gotField)
}

func TestUploadRejected(t *testing.T) {
	srv := startServer(t)

	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(1)
	rec := b.NewRecord()
	defer rec.Release()

	c := connect(t, srv.Addr())
	assert.Error(t, c.Upload(context.Background(), []string{"x"}, rec))
}
