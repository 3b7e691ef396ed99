package remotefs

// ListOptions configures the behavior of List.
type ListOptions struct {
	// HideDotfiles drops entries whose name starts with a dot. The ".." entry is kept.
	// Default is false (the server's listing is returned as is).
	HideDotfiles bool

	// DirsFirst moves directories ahead of files, keeping protocol order within each group.
	// Default is false (protocol order).
	DirsFirst bool
}
