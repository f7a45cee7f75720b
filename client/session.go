package client

import (
	"context"

	"github.com/smnsjas/go-winops/remote"
	"github.com/smnsjas/go-winops/store"
)

// Session binds one connected record to the Manager's channel. Sessions
// are values: holding one does not change which connection is active.
type Session struct {
	record  store.Record
	target  remote.Target
	channel *remote.Channel
	audit   *Auditor
}

// Name returns the connection name.
func (s *Session) Name() string {
	return s.record.Name
}

// Record returns the stored record.
func (s *Session) Record() store.Record {
	return s.record
}

// Target returns the resolved remote target.
func (s *Session) Target() remote.Target {
	return s.target
}

// Run executes req.
func (s *Session) Run(ctx context.Context, req remote.Request) *remote.Result {
	res := s.channel.Run(ctx, s.target, req)
	s.audit.record(categoryCommand, "execute", &s.record, res.Err, "exit_code", res.ExitCode)
	return res
}

// Execute runs a PowerShell command line.
func (s *Session) Execute(ctx context.Context, command string) *remote.Result {
	return s.Run(ctx, remote.CommandRequest(command))
}

// ExecuteScript runs a whole PowerShell script.
func (s *Session) ExecuteScript(ctx context.Context, script string) *remote.Result {
	return s.Run(ctx, remote.ScriptRequest(script))
}

// CopyToRemote uploads localPath to remotePath.
func (s *Session) CopyToRemote(ctx context.Context, localPath, remotePath string) error {
	err := s.channel.CopyToRemote(ctx, s.target, localPath, remotePath)
	s.audit.record(categoryTransfer, "upload", &s.record, err, "remote_path", remotePath)
	return err
}

// CopyFromRemote downloads remotePath to localPath.
func (s *Session) CopyFromRemote(ctx context.Context, remotePath, localPath string) error {
	err := s.channel.CopyFromRemote(ctx, s.target, remotePath, localPath)
	s.audit.record(categoryTransfer, "download", &s.record, err, "remote_path", remotePath)
	return err
}
