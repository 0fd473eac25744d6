package weave

// Registry records which methods may suspend, so C4 can tell an
// ordinary call apart from a continuation point. Spec.md's C4 design
// presupposes such a lookup ("classify every invoke that targets a
// method registered as possibly-suspending") without specifying its
// shape; this is the shape SPEC_FULL.md settles on, mirrored on the
// asyncify reference transform's asyncFuncs set.
type Registry struct {
	suspending map[registryKey]bool
}

type registryKey struct {
	owner, name, descriptor string
}

func NewRegistry() *Registry {
	return &Registry{suspending: make(map[registryKey]bool)}
}

// Mark records ref as possibly-suspending.
func (r *Registry) Mark(ref MethodRef) {
	r.suspending[registryKey{ref.Owner, ref.Name, ref.Descriptor}] = true
}

// IsSuspending reports whether ref was previously Marked.
func (r *Registry) IsSuspending(ref MethodRef) bool {
	return r.suspending[registryKey{ref.Owner, ref.Name, ref.Descriptor}]
}
