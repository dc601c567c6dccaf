package eventbus

// BindLeft adapts an inner handler's payload to an outer sender's payload
// by prepending fixed context. The C++ source prepends literal extra
// arguments to a variadic payload; Go has no variadic type parameters, so
// the idiomatic equivalent is an explicit transform closure that builds
// the outer payload from the inner one. The returned handler dispatches
// synchronously (a direct connection), matching bindLeft's semantics.
func BindLeft[In, Out any](outer Sender[Out], transform func(in In) Out) Handler[In] {
	return func(in In) {
		outer.Send(transform(in))
	}
}

// BindRight is BindLeft's mirror, provided for call sites where the fixed
// context reads more naturally appended after the inner payload than
// prepended before it. The distinction is purely about how the caller's
// transform closure is written; both dispatch identically.
func BindRight[In, Out any](outer Sender[Out], transform func(in In) Out) Handler[In] {
	return BindLeft(outer, transform)
}
