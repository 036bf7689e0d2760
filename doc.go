/*
Package sqlmap is a result-materialization layer over database/sql with a
query-plan cache. You write plain SQL; sqlmap executes it, compiles a
projection from the result's columns to your Go type once, and reuses it for
every later call with the same shape.

# Overview

A Session wraps a connection (FromDB, FromConn, FromTx) together with a
Mapper, which owns the plan cache. Commands are built with SQL or Procedure
and run with the generic functions:

  - Query and Get materialize rows into a slice or a single value.
  - Stream returns a lazy, single-pass Rows sequence.
  - QueryMap2 … QueryMap7 split each row into several values and combine them;
    StreamMap2 … StreamMap7 do the same without buffering.
  - QueryMultiple returns a GridReader over several result sets.
  - QueryAsync, StreamAsync, QueryMultipleAsync and ExecAsync run a command
    on its own goroutine and return a Future.

# Mapping rules

  - Fields bind by `db:"name"` first; otherwise case-insensitive field ←→ column name.
  - Nested structs can be flattened with `db:",inline"`.
  - If a destination type (or field) implements sql.Scanner, its Scan method receives the driver value.
  - Primitives (bool, numbers, string, []byte, time.Time, sql.RawBytes) are supported directly.
  - map[string]any and Record receive every column as returned by the driver.
  - Extra columns are ignored; missing columns yield zero values (favors robustness).
  - NULL leaves a struct field at its zero value unless Mapper.Strict is set.
    NULL into a non-nullable scalar target fails the read.
  - Types without a usable zero value can register constructors with
    Mapper.RegisterConstructor.

# Plan cache

Plans are keyed by an Identity: command text and kind, connection descriptor,
target type, parameter type, multi-mapping types and grid position. Each entry
remembers a hash of the column layout it was compiled for. If a later result
has a different layout (a view gained a column, SELECT * after ALTER TABLE),
the plan is recompiled and replaced; readers never see a half-built plan.
Concurrent first calls for the same identity may each compile; the last one
stored wins. PlanCache.Stats reports hits, misses and compiles, and
PlanCache.Trim bounds memory by evicting least-recently-used identities.

Coercions that can never succeed (a time column into an int field, say) are
reported as a *TypeMismatchError before any row is read. Per-row failures
(overflow, NULL into int) abort the read with a *MaterializationError.

# Parameters

A single struct or map[string]any parameter binds :name placeholders; slices
expand into lists. Anything else is passed positionally. '?' placeholders are
rewritten for the session's Placeholder style (WithPlaceholder).

# Resources and timeouts

A command opens the connection only if it is closed, and then closes it
again on every exit path. Streams and grids hold the connection until they
are drained or closed. A timeout (WithTimeout or Command.WithTimeout) bounds
the whole command; exceeding it returns an error matching ErrTimeout and
context.DeadlineExceeded. Cleanup errors never mask the original failure.

A Session, like a connection, serves one caller at a time. A Mapper may be
shared by any number of sessions and goroutines.
*/
package sqlmap
