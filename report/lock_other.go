// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

//go:build !unix

package report

import (
	"os"
)

// Advisory locking is only implemented on unix; elsewhere concurrent writers
// must initialize the header with EnsureHeader before running in parallel.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
