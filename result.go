package assetdb

import (
	"errors"
	"time"
)

// Result is the uniform tagged outcome every store operation returns.
// Exactly one side holds: OK with Data/Meta, or an Err in the stable
// code taxonomy. Callers branch on OK and never see raw driver errors.
type Result struct {
	OK   bool         `json:"ok"`
	Data interface{}  `json:"data,omitempty"`
	Meta *ResultMeta  `json:"meta,omitempty"`
	Err  *ResultError `json:"error,omitempty"`
}

// ResultMeta carries execution details for write statements
type ResultMeta struct {
	RowsAffected int64         `json:"rowsAffected"`
	LastInsertID int64         `json:"lastInsertId,omitempty"`
	Duration     time.Duration `json:"-"`
}

// ResultError describes a failure in the stable taxonomy
type ResultError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Ok returns a success Result carrying data
func Ok(data interface{}) Result {
	return Result{OK: true, Data: data}
}

// OkMeta returns a success Result carrying data and execution details
func OkMeta(data interface{}, meta ResultMeta) Result {
	return Result{OK: true, Data: data, Meta: &meta}
}

// Err returns a failure Result
func Err(code ErrorCode, message string, context map[string]interface{}) Result {
	return Result{OK: false, Err: &ResultError{
		Code:    code,
		Message: message,
		Context: context,
	}}
}

// Code returns the error code, or "" for a success Result
func (r Result) Code() ErrorCode {
	if r.OK || r.Err == nil {
		return ""
	}
	return r.Err.Code
}

// resultFromError maps an internal error into the public taxonomy,
// keeping any attached context for operators. Recovery and retry
// mechanics never show up here, only the final classification.
func resultFromError(err error) Result {
	if err == nil {
		return Ok(nil)
	}

	code := codeForError(err)
	var we *ErrorWithContext
	if errors.As(err, &we) {
		return Err(code, we.Err.Error(), we.Context)
	}
	return Err(code, err.Error(), nil)
}
