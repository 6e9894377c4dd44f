package protocol

import (
	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/encoding"
	"github.com/minsql/minsql/exec"
)

// QueryRequest is the payload of a Query or Execute frame
type QueryRequest struct {
	Source string `msgpack:"source"`
}

// QueryResponse carries a result set back to the client. Rows are in
// column order, one value slice per row.
type QueryResponse struct {
	Columns []string         `msgpack:"columns"`
	Rows    [][]common.Value `msgpack:"rows"`
}

// ExecuteResponse acknowledges a mutation, schema change, or
// transaction control statement.
type ExecuteResponse struct {
	Affected int64 `msgpack:"affected"`
}

// ErrorResponse is the payload of an Error frame
type ErrorResponse struct {
	Code     uint16 `msgpack:"code"`
	Category string `msgpack:"category"`
	Message  string `msgpack:"message"`
}

// EncodeQueryResponse flattens an execution result into wire form
func EncodeQueryResponse(res *exec.Result) ([]byte, error) {
	resp := QueryResponse{Columns: res.Columns, Rows: make([][]common.Value, 0, len(res.Rows))}
	for _, tuple := range res.Rows {
		row := make([]common.Value, len(res.Columns))
		for i, col := range res.Columns {
			row[i], _ = tuple.Get(col)
		}
		resp.Rows = append(resp.Rows, row)
	}
	return encoding.Marshal(&resp)
}

// DecodeQueryRequest parses a Query or Execute payload
func DecodeQueryRequest(payload []byte) (*QueryRequest, error) {
	var req QueryRequest
	if err := encoding.Unmarshal(payload, &req); err != nil {
		return nil, &ProtocolError{Message: "malformed request payload: " + err.Error()}
	}
	return &req, nil
}
