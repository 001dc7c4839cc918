// Package common provides the configuration and logging shared by the commands of this
// module.
//
// Key Components:
//
//   - Config: settings of a command that opens a store (repository path, open mode,
//     worker count, log level), with a human readable String form.
//
//   - Logger: a logger factory for dragonboat's logger package. Every package of this
//     module obtains its logger through logger.GetLogger(name), InitLoggers installs the
//     factory and sets the level of all of them.
package common
