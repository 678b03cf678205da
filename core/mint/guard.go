package mint

// Initialize latches the tool exactly once and records the caller as owner.
// Irreversible: once initialized the tool never reverts.
func (t *Tool) Initialize(caller Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller.IsAnonymous() {
		return ErrNotAllowAnonymous
	}
	if t.access.Initialized {
		return ErrAlreadyInitialized
	}
	t.access.Initialized = true
	t.access.Owner = caller
	return nil
}

// Owner returns the current owning identity.
func (t *Tool) Owner() Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.access.Owner
}

// Initialized reports whether the one-time initialization has happened.
func (t *Tool) Initialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.access.Initialized
}

// SetOwner transfers ownership. Once an owner exists only that owner may
// transfer; neither side of the transfer may be anonymous.
func (t *Tool) SetOwner(caller, newOwner Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireInitialized(); err != nil {
		return err
	}
	if newOwner.IsAnonymous() {
		return ErrNotAllowAnonymous
	}
	if err := t.requireOwner(caller); err != nil {
		return err
	}
	t.access.Owner = newOwner
	return nil
}

// requireOwner and requireInitialized are the shared preconditions for all
// mutating operations. Callers must hold t.mu.
func (t *Tool) requireOwner(caller Identity) error {
	if caller.IsAnonymous() {
		return ErrNotAllowAnonymous
	}
	if !t.access.Owner.IsAnonymous() && caller != t.access.Owner {
		return ErrOnlyOwner
	}
	return nil
}

func (t *Tool) requireInitialized() error {
	if !t.access.Initialized {
		return ErrUninitialized
	}
	return nil
}
