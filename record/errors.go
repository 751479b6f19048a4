package record

import "errors"

// ErrDuplicate is returned by Store.Publish when an identical (name, type,
// rdata) record is already owned: the call is a no-op (§7).
var ErrDuplicate = errors.New("record: record already published")

// ErrNotFound is returned by Store.Withdraw when no owned record exists for
// the given key: the call is a no-op (§7).
var ErrNotFound = errors.New("record: no such record")
