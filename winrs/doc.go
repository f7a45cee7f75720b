// Package winrs runs processes in a Windows Remote Shell over WS-Management.
//
// A Shell wraps one server-side cmd shell. The remote package opens a
// shell per call, runs powershell.exe in it and closes it again:
//
//	shell, err := winrs.NewShell(ctx, client, winrs.WithNoProfile())
//	if err != nil {
//	    return err
//	}
//	defer shell.Close(ctx)
//
//	out, err := shell.Run(ctx, "powershell.exe", "-EncodedCommand", enc)
package winrs
