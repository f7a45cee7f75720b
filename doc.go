// Package winops manages connections to remote Windows hosts and runs
// PowerShell commands, scripts and file transfers on them over WinRM.
//
// # Architecture
//
// The packages, from the top down:
//
//	cmd/winops-remote   CLI (cobra)
//	client/             connection manager, sessions, fan-out, audit
//	store/              saved connections (JSON, owner-only file)
//	remote/             channel, reachability probe, request codec
//	remote/localps/     backend driving the local powershell.exe
//	winrs/              WinRS cmd shell lifecycle
//	wsman/              WS-Management over HTTP(S), Basic/NTLM/Kerberos
//
// Every remote call carries its script as a single -EncodedCommand
// argument. Data such as file contents and paths is bound to variables in
// a prelude and never spliced into script text.
//
// # Quick Start
//
//	m, err := client.NewManager(client.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = m.AddConnection(ctx, store.Record{
//	    Name: "dc01", Hostname: "10.0.0.5",
//	    Username: "Administrator", Password: pw,
//	})
//	if err := m.Connect(ctx, "dc01"); err != nil {
//	    log.Fatal(err)
//	}
//	res := m.Execute(ctx, "Get-Service WinRM")
//	fmt.Println(res.ExitCode, res.Stdout)
package winops
