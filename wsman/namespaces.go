package wsman

// XML namespaces declared on every request envelope.
const (
	NsSoap           = "http://www.w3.org/2003/05/soap-envelope"
	NsAddressing     = "http://schemas.xmlsoap.org/ws/2004/08/addressing"
	NsWsman          = "http://schemas.dmtf.org/wbem/wsman/1/wsman.xsd"
	NsWsmanMicrosoft = "http://schemas.microsoft.com/wbem/wsman/1/wsman.xsd"
	NsShell          = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell"
)

// AddressAnonymous is the WS-Addressing anonymous reply address.
const AddressAnonymous = NsAddressing + "/role/anonymous"

const transferActions = "http://schemas.xmlsoap.org/ws/2004/09/transfer"

// Actions. Shell lifetime uses WS-Transfer; everything else is WinRS.
const (
	ActionCreate  = transferActions + "/Create"
	ActionDelete  = transferActions + "/Delete"
	ActionCommand = NsShell + "/Command"
	ActionReceive = NsShell + "/Receive"
	ActionSignal  = NsShell + "/Signal"
)

// Signal codes accepted by Signal.
const (
	SignalTerminate = NsShell + "/signal/terminate"
	SignalCtrlC     = NsShell + "/signal/ctrl_c"
)

// ResourceURIWinRS is the resource URI of the cmd shell.
const ResourceURIWinRS = NsShell + "/cmd"

// CommandStateDone is reported once a command has exited.
const CommandStateDone = NsShell + "/CommandState/Done"
