// Package cost implements the monadic cost-accounting layer threaded
// through every Merk and grove operation (spec.md §4.1).
//
// A Context accumulates the resources an operation consumed — seeks,
// bytes loaded/added/replaced/removed, and hash-function invocations —
// regardless of whether the operation ultimately succeeds or fails. The
// accounting must survive a failure partway through a computation, so
// costs are summed unconditionally rather than only on the success path.
package cost

// Context accumulates the resources consumed by an operation.
type Context struct {
	Seeks           uint64
	StorageLoaded   uint64
	StorageAdded    uint64
	StorageReplaced uint64
	StorageRemoved  uint64
	HashCalls       uint64
}

// Add folds other into c in place and returns c, so call sites can chain
// `cost.Add(sub)` while accumulating into a single running total.
func (c *Context) Add(other Context) *Context {
	c.Seeks += other.Seeks
	c.StorageLoaded += other.StorageLoaded
	c.StorageAdded += other.StorageAdded
	c.StorageReplaced += other.StorageReplaced
	c.StorageRemoved += other.StorageRemoved
	c.HashCalls += other.HashCalls
	return c
}

// AddHash records a single hash-function call fed byteLen bytes, using the
// block-count formula from spec.md §4.2: 1 + (bytes_fed-1)/64.
func (c *Context) AddHash(byteLen int) {
	if byteLen <= 0 {
		c.HashCalls++
		return
	}
	c.HashCalls += uint64(1 + (byteLen-1)/64)
}

// Result pairs an operation's value with the cost it incurred. This is the
// `CostContext<T>` of spec.md §4.1 and §9 ("Monadic cost flow"): a plain
// value-plus-cost pair, threaded by hand rather than simulated with
// exceptions or a thread-local accumulator.
type Result struct {
	Cost Context
	Err  error
}

// Merge folds a sub-operation's cost and error into r, propagating cost on
// error exactly like on success. If r already carries an error, the first
// error wins but the new cost is still added.
func (r *Result) Merge(sub Context, err error) error {
	r.Cost.Add(sub)
	if r.Err == nil {
		r.Err = err
	}
	return err
}

// Chain runs fn, which returns its own cost context and error, and folds
// both into acc. It returns fn's error so callers can short-circuit while
// the cost has already been recorded.
func Chain(acc *Context, fn func() (Context, error)) error {
	sub, err := fn()
	acc.Add(sub)
	return err
}
