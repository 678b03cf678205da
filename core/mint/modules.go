package mint

// SetModule stores an installable module payload in the named slot,
// overwriting any previous payload. Owner only.
func (t *Tool) SetModule(caller Identity, slot ModuleSlot, module []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireInitialized(); err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return err
	}
	if slot != SlotPrimary && slot != SlotAuxiliary {
		return ErrInvalidModule
	}
	if len(module) == 0 {
		return ErrInvalidModule
	}
	t.modules[slot] = append([]byte(nil), module...)
	return nil
}

// Module returns a copy of the stored payload for the slot. The copy is
// the caller's to keep across suspension points; the store is never
// re-read after an external call.
func (t *Tool) Module(slot ModuleSlot) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moduleLocked(slot)
}

func (t *Tool) moduleLocked(slot ModuleSlot) ([]byte, error) {
	module := t.modules[slot]
	if len(module) == 0 {
		return nil, ErrInvalidModule
	}
	return append([]byte(nil), module...), nil
}
