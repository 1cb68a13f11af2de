// Package ir provides the row model shared by every tttsync package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Rows never carry derived state: a GameMove has a position, not a mark
//   - Identity is opaque; the all-zero identity means "slot not filled"
//   - All JSON and YAML tags use snake_case
//   - Journal ordering uses logical seq numbers, never wall-clock time
package ir
