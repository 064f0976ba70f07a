// Package localdb 以信封协议暴露本进程的数据库 (method 40010),
// 是 database.LocalClient 的服务端。
package localdb

import (
	"context"
	"sort"

	"github.com/multi-agent/wsrpc/internal/database"
	"github.com/multi-agent/wsrpc/internal/model"
	"github.com/multi-agent/wsrpc/internal/rpc"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// QuerySchema 查询端点描述。
func QuerySchema() model.EndpointSchema {
	payload := model.DataTable("payload",
		model.NewField("labels", model.Vec(model.String)),
		model.NewField("rows", model.Vec(model.Vec(model.String))),
	)
	return model.NewEndpointSchema("Query", database.MethodQuery,
		[]model.Field{
			model.NewField("statements", model.String),
			model.NewField("tokens", model.Vec(model.String)),
		},
		[]model.Field{model.NewField("payloads", model.Vec(payload))},
	)
}

// Register 注册查询端点; 服务器必须已设置数据库。
func Register(server *rpc.Server) {
	server.AddHandler(QuerySchema(), rpc.Async(query))
}

func query(ctx context.Context, tb *rpc.Toolbox, _ rpc.RequestContext, _ *rpc.Connection, req database.QueryRequest) (database.QueryResponse, error) {
	args := make([]any, len(req.Tokens))
	for i, tok := range req.Tokens {
		args[i] = parseToken(tok)
	}
	rows, err := tb.DB().Query(ctx, req.Statements, args...)
	if err != nil {
		return database.QueryResponse{}, err
	}
	logger.FromContext(ctx).Debug("localdb: query executed", logger.FieldCount, len(rows))
	return database.QueryResponse{Payloads: []database.Payload{toPayload(rows)}}, nil
}

// parseToken stringify 的逆变换。
func parseToken(tok string) any {
	if tok == "NULL" {
		return nil
	}
	if b, ok := database.DecodeBytea(tok); ok {
		return b
	}
	return tok
}

// toPayload 行 → 列式 payload, 列名按字典序; 二进制值按 bytea 文本格式输出。
func toPayload(rows database.Rows) database.Payload {
	p := database.Payload{Labels: []string{}, Rows: [][]any{}}
	if len(rows) == 0 {
		return p
	}
	for label := range rows[0] {
		p.Labels = append(p.Labels, label)
	}
	sort.Strings(p.Labels)
	for _, row := range rows {
		values := make([]any, len(p.Labels))
		for i, label := range p.Labels {
			if b, ok := row[label].([]byte); ok {
				values[i] = database.EncodeBytea(b)
				continue
			}
			values[i] = row[label]
		}
		p.Rows = append(p.Rows, values)
	}
	return p
}
