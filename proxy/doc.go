// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
Package proxy exposes one configured server as a set of method-style calls.

A ServerProxy resolves Go-friendly method names against the tools the
server advertises:

	ctx7, err := proxy.New(rt, "context7")
	res, err := ctx7.Invoke(ctx, "resolveLibraryId", map[string]any{"libraryName": "react"})

is exactly rt.Invoke(ctx, "context7", "resolve-library-id", ...). Names that
cannot be expressed as identifiers (for example tools containing spaces)
remain reachable through Call with the literal tool name.
*/
package proxy
