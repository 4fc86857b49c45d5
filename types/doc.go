// Package types provides core types shared across mailmind packages.
// This package has ZERO dependencies on other mailmind packages to avoid
// circular imports. All other packages should import types from here.
package types
