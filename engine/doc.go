// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package engine is a small deterministic discrete-event engine for
// simulating a workflow on a platform made of a storage service, a
// batch-scheduled cluster and an elastic cloud pool.
//
// The engine follows the lifecycle of a simulation driver: load a workflow
// and a platform description, add services, stage the workflow's input files,
// enable timestamp collection, then Launch. Launch blocks until the workflow
// completes or fails, after which the task completion trace, per-host energy
// and the workflow completion date can be read.
//
// The model is deliberately coarse. Reads and writes go to the storage
// service's disk at its nominal bandwidth without contention, computation
// takes flops/(speed*cores), and the network is not modeled. Batch scheduling
// algorithms are selected by name; only strict first-come-first-served
// variants are implemented, and other names are rejected as invalid
// configuration.
package engine
