package remote

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// EchoMarker is written by the echo probe and checked on return.
const EchoMarker = "Connection test successful"

const echoScript = `Write-Output '` + EchoMarker + `'`

// scriptRunner compiles the UTF-8 payload into a script block and runs it
// in the current scope, so `exit` and `throw` behave as in a .ps1 file.
const scriptRunner = `. ([System.Management.Automation.ScriptBlock]::Create([System.Text.Encoding]::UTF8.GetString($payload)))`

// File contents travel gzip-compressed in both directions; .NET's GZipStream
// handles the remote end.
const copyToScript = `$ErrorActionPreference = 'Stop'
$directory = [System.IO.Path]::GetDirectoryName($path)
if ($directory -and -not (Test-Path -LiteralPath $directory)) {
    [System.IO.Directory]::CreateDirectory($directory) | Out-Null
}
$gz = New-Object System.IO.Compression.GZipStream((New-Object System.IO.MemoryStream(,$payload)), [System.IO.Compression.CompressionMode]::Decompress)
$out = [System.IO.File]::Create($path)
try { $gz.CopyTo($out) } finally { $out.Dispose(); $gz.Dispose() }
Test-Path -LiteralPath $path`

const copyFromScript = `$ErrorActionPreference = 'Stop'
if (-not (Test-Path -LiteralPath $path -PathType Leaf)) {
    [Console]::Error.WriteLine("File not found: $path")
    exit 1
}
$bytes = [System.IO.File]::ReadAllBytes($path)
$ms = New-Object System.IO.MemoryStream
$gz = New-Object System.IO.Compression.GZipStream($ms, [System.IO.Compression.CompressionMode]::Compress)
$gz.Write($bytes, 0, $bytes.Length)
$gz.Dispose()
[System.Convert]::ToBase64String($ms.ToArray())`

// EchoRequest is the minimal authentication round trip.
func EchoRequest() Request {
	return Request{Script: echoScript}
}

// EchoSucceeded reports whether an echo round trip authenticated.
func EchoSucceeded(r *Result) bool {
	return r.OK() && strings.Contains(r.Stdout, EchoMarker)
}

// CommandRequest runs a PowerShell command line as written.
func CommandRequest(command string) Request {
	return Request{Script: command}
}

// ScriptRequest carries a whole script as payload and runs it on the target.
func ScriptRequest(script string) Request {
	return Request{Script: scriptRunner, Payload: []byte(script)}
}

// CopyToRequest writes content to remotePath, creating the directory, and
// prints the result of an existence check.
func CopyToRequest(content []byte, remotePath string) (Request, error) {
	packed, err := compress(content)
	if err != nil {
		return Request{}, fmt.Errorf("%w: compress: %w", ErrTransfer, err)
	}
	return Request{
		Script:  copyToScript,
		Payload: packed,
		Params:  map[string]string{"path": remotePath},
	}, nil
}

// CopyToSucceeded reports whether a CopyToRequest wrote its file.
func CopyToSucceeded(r *Result) bool {
	return r.OK() && strings.EqualFold(strings.TrimSpace(r.Stdout), "true")
}

// CopyFromRequest prints the compressed base64 content of remotePath, or exits 1
// with a message on stderr when it does not exist.
func CopyFromRequest(remotePath string) Request {
	return Request{
		Script: copyFromScript,
		Params: map[string]string{"path": remotePath},
	}
}

// DecodeCopyFrom extracts the file content from a CopyFromRequest result.
func DecodeCopyFrom(r *Result) ([]byte, error) {
	if r.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransfer, r.Err)
	}
	if r.ExitCode != 0 {
		return nil, fmt.Errorf("%w: remote exit %d: %s", ErrTransfer, r.ExitCode, strings.TrimSpace(r.Stderr))
	}
	encoded := strings.Join(strings.Fields(r.Stdout), "")
	packed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable payload: %w", ErrTransfer, err)
	}
	content, err := decompress(packed)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable payload: %w", ErrTransfer, err)
	}
	return content, nil
}

func compress(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(packed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
