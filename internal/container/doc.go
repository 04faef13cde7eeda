// SPDX-License-Identifier: MPL-2.0

// Package container drives the docker or podman CLI for the image operations
// environment provisioning needs: build, run, pull, tag, inspect, and remove.
//
// DockerEngine and PodmanEngine embed BaseCLIEngine, which builds argument
// lists and executes the binary through an injectable ExecCommandFunc. Engine
// selection uses NewEngine(EngineType) with fallback to the other engine, or
// AutoDetectEngine() when no preference is configured.
//
// Failed engine commands return *EngineCommandError carrying the tail of the
// engine's stderr; build and pull failures are additionally wrapped in
// issue.ActionableError with suggestions.
package container
