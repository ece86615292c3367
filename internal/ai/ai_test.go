package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"data-intelligence/internal/classify"
	"data-intelligence/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashScopeChat(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"output":{"choices":[{"message":{"role":"assistant","content":"你好"}}]}}`))
	}))
	defer srv.Close()

	c := NewDashScope("sk-test", WithEndpoint(srv.URL), WithModel("qwen-turbo"))
	out, err := c.Chat(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "你好", out)
	assert.Equal(t, "qwen-turbo", got.Model)
	require.Len(t, got.Input.Messages, 2)
	assert.Equal(t, "system", got.Input.Messages[0].Role)
	assert.Equal(t, "message", got.Parameters.ResultFormat)
}

func TestDashScopeErrors(t *testing.T) {
	_, err := NewDashScope("").Chat(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/empty") {
			w.Write([]byte(`{"output":{"choices":[]}}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":"Throttling","message":"quota"}`))
	}))
	defer srv.Close()

	_, err = NewDashScope("k", WithEndpoint(srv.URL+"/limited")).Chat(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrAPI)
	_, err = NewDashScope("k", WithEndpoint(srv.URL+"/empty")).Chat(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

type fakeClient struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeClient) Chat(ctx context.Context, system, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func shop() *schema.Schema {
	s := &schema.Schema{
		Database: "shop",
		Tables: []*schema.Table{
			{Name: "orders", RowCount: 5000, Columns: []schema.Column{{Name: "id"}, {Name: "customer_id"}},
				ForeignKeys: []schema.ForeignKey{{Column: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"}}},
			{Name: "customers", RowCount: 40, Columns: []schema.Column{{Name: "id"}, {Name: "name"}}},
		},
	}
	s.Sort()
	return s
}

func TestTableRefiner(t *testing.T) {
	fc := &fakeClient{reply: "```json\n" + `{
		"orders": {"table_type": "fact", "business_entity": "order"},
		"customers": {"table_type": "dimension", "business_entity": "customer"},
		"ghosts": {"table_type": "fact"}
	}` + "\n```"}
	out, err := NewTableRefiner(fc, 0, nil).Refine(context.Background(), shop())
	require.NoError(t, err)

	assert.Equal(t, map[string]classify.Classification{
		"orders":    {TableType: "fact", BusinessEntity: "order"},
		"customers": {TableType: "dimension", BusinessEntity: "customer"},
	}, out)
	assert.Contains(t, fc.prompt, "外键: customer_id → customers.id")
	assert.Contains(t, fc.prompt, "数据库 shop")
}

func TestTableRefinerLimitsTables(t *testing.T) {
	fc := &fakeClient{reply: `{}`}
	_, err := NewTableRefiner(fc, 1, nil).Refine(context.Background(), shop())
	require.NoError(t, err)
	assert.Contains(t, fc.prompt, "1. customers")
	assert.NotContains(t, fc.prompt, "orders")
}

func TestTableRefinerErrors(t *testing.T) {
	_, err := NewTableRefiner(&fakeClient{err: errors.New("boom")}, 0, nil).Refine(context.Background(), shop())
	assert.EqualError(t, err, "boom")

	_, err = NewTableRefiner(&fakeClient{reply: "抱歉，我无法回答"}, 0, nil).Refine(context.Background(), shop())
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("好的：\n```json\n{\"a\":1}\n```"))
	assert.Equal(t, "none", extractJSON(" none "))
}
