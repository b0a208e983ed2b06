package hotreload

// plan is the set of registry operations needed to converge the live
// registry to a desired Spec: names to create, names to update (already
// present with a changed spec), and names to stop (present but no longer
// desired).
type plan struct {
	create []string
	update []string
	stop   []string
}

// diff computes plan given the desired spec and the live set (Apply passes
// the spec it last applied, not a read of the registry): anything new is
// created, anything changed is updated, and anything no longer desired is
// stopped.
func diff(desired map[string]TaskSpec, live map[string]TaskSpec) plan {
	var p plan

	for name, want := range desired {
		had, ok := live[name]
		switch {
		case !ok:
			p.create = append(p.create, name)
		case had.Type != want.Type:
			// A task's concrete implementation can't be swapped via
			// Update; retire the old one and recreate under the new type.
			p.stop = append(p.stop, name)
			p.create = append(p.create, name)
		case !had.equal(want):
			p.update = append(p.update, name)
		}
	}

	for name := range live {
		if _, ok := desired[name]; !ok {
			p.stop = append(p.stop, name)
		}
	}

	return p
}
