// Command kontext is the operator CLI for the kontext daemon. It launches and
// stops kontextd, inspects the generation queue and history, tails daemon
// logs, and manages configuration and staged uploads. Most subcommands talk
// to a running daemon over its unix socket; lifecycle commands spawn or
// terminate the daemon process itself.
package main
