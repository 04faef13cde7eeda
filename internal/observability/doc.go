// SPDX-License-Identifier: MPL-2.0

// Package observability provides the structured loggers and Prometheus
// metrics used while provisioning execution environments.
package observability
