package protocol

import (
	"errors"

	"github.com/minsql/minsql/exec"
	"github.com/minsql/minsql/lang"
	"github.com/minsql/minsql/planner"
	"github.com/minsql/minsql/storage"
	"github.com/minsql/minsql/txn"
)

// Wire error codes. Statement-level failures keep the connection open;
// only ErrCodeProtocol tears it down.
const (
	ErrCodeLex         uint16 = 1
	ErrCodeParse       uint16 = 2
	ErrCodeSemantic    uint16 = 3
	ErrCodePlan        uint16 = 4
	ErrCodeExec        uint16 = 5
	ErrCodeStorage     uint16 = 6
	ErrCodeTransaction uint16 = 7
	ErrCodeProtocol    uint16 = 8
	ErrCodeInternal    uint16 = 9
)

// MapError classifies an error into a wire error response. The second
// return is true when the connection must be dropped after reporting.
func MapError(err error) (*ErrorResponse, bool) {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return &ErrorResponse{Code: ErrCodeProtocol, Category: "protocol", Message: protoErr.Message}, true
	}

	var lexErr *lang.LexError
	if errors.As(err, &lexErr) {
		return &ErrorResponse{Code: ErrCodeLex, Category: "lex", Message: err.Error()}, false
	}
	var parseErr *lang.ParseError
	if errors.As(err, &parseErr) {
		return &ErrorResponse{Code: ErrCodeParse, Category: "parse", Message: err.Error()}, false
	}
	var semErr *lang.SemanticError
	if errors.As(err, &semErr) {
		return &ErrorResponse{Code: ErrCodeSemantic, Category: "semantic", Message: err.Error()}, false
	}
	var planErr *planner.PlanError
	if errors.As(err, &planErr) {
		return &ErrorResponse{Code: ErrCodePlan, Category: "plan", Message: err.Error()}, false
	}
	var execErr *exec.ExecError
	if errors.As(err, &execErr) {
		return &ErrorResponse{Code: ErrCodeExec, Category: "exec", Message: err.Error()}, false
	}
	var storageErr *storage.StorageError
	if errors.As(err, &storageErr) {
		return &ErrorResponse{Code: ErrCodeStorage, Category: "storage", Message: err.Error()}, false
	}
	var txnErr *txn.TransactionError
	if errors.As(err, &txnErr) {
		return &ErrorResponse{Code: ErrCodeTransaction, Category: "transaction", Message: err.Error()}, false
	}

	return &ErrorResponse{Code: ErrCodeInternal, Category: "internal", Message: err.Error()}, false
}
