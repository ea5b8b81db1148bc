package db

// ensureSettings inserts the settings singleton on first init.
func (s *Store) ensureSettings() error {
	_, err := Run(s, `
		INSERT OR IGNORE INTO settings (id, updated_at) VALUES (1, ?)`,
		nowISO(),
	)
	return err
}

// GetSettings returns the singleton settings row.
func (s *Store) GetSettings() (*Settings, error) {
	var out Settings
	var autoApprove int
	err := s.db.QueryRow(`
		SELECT max_concurrent_sessions, max_visible_sessions, auto_approve, grid_layout, theme, updated_at
		FROM settings WHERE id = 1`).Scan(
		&out.MaxConcurrentSessions, &out.MaxVisibleSessions, &autoApprove,
		&out.GridLayout, &out.Theme, &out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	out.AutoApprove = autoApprove == 1
	return &out, nil
}

// SettingsPatch carries optional settings updates; nil fields are left
// untouched.
type SettingsPatch struct {
	MaxConcurrentSessions *int
	MaxVisibleSessions    *int
	AutoApprove           *bool
	GridLayout            *string
	Theme                 *string
}

// UpdateSettings applies the non-nil fields of patch to the singleton row.
func (s *Store) UpdateSettings(patch SettingsPatch) (*Settings, error) {
	set := "updated_at = ?"
	args := []QueryParam{nowISO()}

	if patch.MaxConcurrentSessions != nil {
		set += ", max_concurrent_sessions = ?"
		args = append(args, *patch.MaxConcurrentSessions)
	}
	if patch.MaxVisibleSessions != nil {
		set += ", max_visible_sessions = ?"
		args = append(args, *patch.MaxVisibleSessions)
	}
	if patch.AutoApprove != nil {
		set += ", auto_approve = ?"
		args = append(args, boolToInt(*patch.AutoApprove))
	}
	if patch.GridLayout != nil {
		set += ", grid_layout = ?"
		args = append(args, *patch.GridLayout)
	}
	if patch.Theme != nil {
		set += ", theme = ?"
		args = append(args, *patch.Theme)
	}

	if _, err := Run(s, "UPDATE settings SET "+set+" WHERE id = 1", args...); err != nil {
		return nil, err
	}
	return s.GetSettings()
}
