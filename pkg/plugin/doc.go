// Package plugin defines the plugin collaborator and the registry the
// server keeps of registered plugins. Every ACTIVE plugin contributes one
// job, placed ahead of the replication jobs, to each policy scheduled on
// this server.
package plugin
