// Command dubforge is the CLI for the dubbing daemon. It submits jobs,
// inspects their progress, resolves review holds, and manages configuration,
// talking to dubforged over its HTTP API.
package main
