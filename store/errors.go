package store

import "errors"

// ErrTransactionAborted is returned by Tx.Commit when the transaction's
// read set conflicts with a commit made by another transaction in the
// meantime. The caller is expected to retry the whole operation in a
// fresh transaction; Manager.WithRetry does this automatically.
var ErrTransactionAborted = errors.New("store: transaction aborted by concurrent commit")

// ErrTxClosed is returned by Commit or Rollback when the transaction has
// already been committed or rolled back. Other Tx methods do not check
// for this.
var ErrTxClosed = errors.New("store: transaction already committed or rolled back")
