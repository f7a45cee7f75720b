// Package remote runs PowerShell on Windows hosts and moves files to and
// from them.
//
// A Request is PowerShell source plus data. The data (a byte payload and
// named string parameters) is base64-encoded and bound to variables by a
// generated prelude, and the rendered script is passed to powershell.exe as
// a single -EncodedCommand argument. No caller-supplied value is ever
// spliced into script text.
//
// A Channel wraps a Runner with a timeout, a CredentialScope and error
// classification, and always answers with a Result:
//
//	ch := remote.NewChannel(remote.NewWinRSRunner(remote.WinRSConfig{}, logger))
//	res := ch.Run(ctx, target, remote.CommandRequest("Get-Service WinRM"))
//	if res.Err != nil {
//	    // errors.Is(res.Err, remote.ErrAuthentication), ErrUnreachable, ErrTimeout...
//	}
//	fmt.Println(res.ExitCode, res.Stdout)
//
// File transfer carries the whole file in one command line, so it is
// bounded by the runner's command-line limit (MaxShellCommandLine over
// WinRS, MaxCommandLine locally); larger files fail with ErrPayloadTooLarge.
package remote
