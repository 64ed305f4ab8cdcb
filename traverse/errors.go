package traverse

import "errors"

// ErrRecursionLimit reports that traversal stopped descending past the
// configured depth. It is never returned by Traverse; Result.Err exposes it
// alongside the partial value.
var ErrRecursionLimit = errors.New("recursion limit exceeded")
