package manager

import "orchestd/pkg/types"

func errBusy(runner, reason string) error {
	return types.Errorf(types.KindBusy, nil, "runner %s: %s", runner, reason)
}

func errUnknownRunner(name string) error {
	return types.Errorf(types.KindSelection, nil, "runner %q is not registered", name)
}

// IsTooBusy reports whether err indicates backpressure (429).
func IsTooBusy(err error) bool { return types.IsBusy(err) }
