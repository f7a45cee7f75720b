// Package wsman implements a WS-Management (WSMan) client for communicating
// with WinRM endpoints.
//
// The client drives the Windows Remote Shell (WinRS) resource: it builds
// SOAP envelopes with the WS-Addressing and WS-Management headers WinRM
// expects and parses the responses and faults it returns.
//
// # Subpackages
//
//   - auth: Authentication handlers (Basic, NTLM, Kerberos)
//   - transport: HTTP/TLS transport layer
//
// # WSMan Operations
//
//   - Create: Open a cmd shell
//   - Command: Start a process in the shell
//   - Receive: Collect stdout/stderr and the exit code
//   - Signal: Terminate the process
//   - Delete: Close the shell
package wsman
