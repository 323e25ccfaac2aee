// Package ir provides the value types shared by every hswatch package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Table rows are plain values; runtime state lives in the engine
//   - Actions are a tagged variant (ActionRef), never magic integer ranges
//   - Every name crossing into the core is NFC normalized (NormalizeName)
//   - All JSON/YAML tags use snake_case
package ir
