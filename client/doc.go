// Package client manages named Windows remote connections.
//
// A Manager loads saved connections from a store, tests them (a TCP probe
// of the WinRM ports followed by an authenticated echo), tracks which are
// connected, and keeps one of them active for Execute, ExecuteScript and
// the file copy helpers.
//
// # Quick Start
//
//	m, err := client.NewManager(client.DefaultConfig(), client.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = m.AddConnection(ctx, store.Record{
//	    Name:     "dc01",
//	    Hostname: "10.0.0.5",
//	    Username: `CORP\admin`,
//	    Password: password,
//	})
//	if err := m.Connect(ctx, "dc01"); err != nil {
//	    log.Fatal(err)
//	}
//	res := m.Execute(ctx, "Get-Service WinRM")
//	fmt.Println(res.ExitCode, res.Stdout)
//
// # Fan-out
//
// ExecuteOnAll runs a function once per connected connection, each with its
// own Session, and never changes the active connection:
//
//	outcomes := client.ExecuteOnAll(ctx, m, func(ctx context.Context, s *client.Session) (*remote.Result, error) {
//	    res := s.Execute(ctx, "hostname")
//	    return res, res.Err
//	}, client.WithConcurrency(4))
package client
