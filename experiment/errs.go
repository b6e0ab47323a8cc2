// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package experiment

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrConfiguration classifies failures detected before the simulation runs:
// an invalid configuration file, an unreadable platform or workflow, or a
// service the engine rejects.
const ErrConfiguration = constError("configuration error")

// ErrStaging classifies failures to place a workflow input file on the
// storage service.
const ErrStaging = constError("staging error")

// ErrRuntime classifies failures of the simulation run itself and of the
// reduction of its trace.
const ErrRuntime = constError("run-time error")
