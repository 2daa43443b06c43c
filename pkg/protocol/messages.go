// Package protocol defines the tracker wire messages. Every WebSocket binary
// frame carries exactly one CBOR-encoded envelope: ClientMessage inbound,
// ServerMessage outbound. The messageId of a request is echoed verbatim in
// its reply; out-of-band pushes carry an empty messageId.
package protocol

type MessageType uint8

const (
	TypeRegisterDaemonRequest MessageType = iota + 1
	TypeAttachRequest
	TypeRemoteAttachRequest
	TypeDetachRequest
	TypeImportRequest
	TypeDeleteRequest
	TypeConnectionsListRequest
	TypeStatusUpdate

	TypeRegisterDaemonResponse
	TypeAttachResponse
	TypeRemoteAttachResponse
	TypeDetachResponse
	TypeImportResponse
	TypeDeleteResponse
	TypeConnectionsListResponse
	TypeConnectionsList
)

func (t MessageType) String() string {
	switch t {
	case TypeRegisterDaemonRequest:
		return "REGISTER_DAEMON_REQUEST"
	case TypeAttachRequest:
		return "ATTACH_REQUEST"
	case TypeRemoteAttachRequest:
		return "REMOTE_ATTACH_REQUEST"
	case TypeDetachRequest:
		return "DETACH_REQUEST"
	case TypeImportRequest:
		return "IMPORT_REQUEST"
	case TypeDeleteRequest:
		return "DELETE_REQUEST"
	case TypeConnectionsListRequest:
		return "CONNECTIONS_LIST_REQUEST"
	case TypeStatusUpdate:
		return "STATUS_UPDATE"
	case TypeRegisterDaemonResponse:
		return "REGISTER_DAEMON_RESPONSE"
	case TypeAttachResponse:
		return "ATTACH_RESPONSE"
	case TypeRemoteAttachResponse:
		return "REMOTE_ATTACH_RESPONSE"
	case TypeDetachResponse:
		return "DETACH_RESPONSE"
	case TypeImportResponse:
		return "IMPORT_RESPONSE"
	case TypeDeleteResponse:
		return "DELETE_RESPONSE"
	case TypeConnectionsListResponse:
		return "CONNECTIONS_LIST_RESPONSE"
	case TypeConnectionsList:
		return "CONNECTIONS_LIST"
	default:
		return "UNKNOWN"
	}
}

// Result is the protocol-level outcome of a request. Rejections are never
// surfaced as errors; they are always one of these codes.
type Result uint8

const (
	ResultAccepted Result = iota
	ResultRejected
	ResultInvalidPath
	ResultPathNotFound
	ResultDaemonNotFound
	ResultInvalidAddress
	ResultAlreadyAttached
	ResultNotAttached
)

func (r Result) String() string {
	switch r {
	case ResultAccepted:
		return "ACCEPTED"
	case ResultRejected:
		return "REJECTED"
	case ResultInvalidPath:
		return "INVALID_PATH"
	case ResultPathNotFound:
		return "PATH_NOT_FOUND"
	case ResultDaemonNotFound:
		return "DAEMON_NOT_FOUND"
	case ResultInvalidAddress:
		return "INVALID_ADDRESS"
	case ResultAlreadyAttached:
		return "ALREADY_ATTACHED"
	case ResultNotAttached:
		return "NOT_ATTACHED"
	default:
		return "UNKNOWN"
	}
}

// ClientMessage is the inbound envelope. Exactly one request field matching
// Type is set.
type ClientMessage struct {
	Type      MessageType `cbor:"type"`
	MessageID string      `cbor:"messageId"`

	RegisterDaemonRequest  *RegisterDaemonRequest  `cbor:"registerDaemonRequest,omitempty"`
	AttachRequest          *AttachRequest          `cbor:"attachRequest,omitempty"`
	RemoteAttachRequest    *AttachRequest          `cbor:"remoteAttachRequest,omitempty"`
	DetachRequest          *DetachRequest          `cbor:"detachRequest,omitempty"`
	ImportRequest          *ImportRequest          `cbor:"importRequest,omitempty"`
	DeleteRequest          *DeleteRequest          `cbor:"deleteRequest,omitempty"`
	ConnectionsListRequest *ConnectionsListRequest `cbor:"connectionsListRequest,omitempty"`
	StatusUpdate           *StatusUpdate           `cbor:"statusUpdate,omitempty"`
}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	Type      MessageType `cbor:"type"`
	MessageID string      `cbor:"messageId"`

	RegisterDaemonResponse  *RegisterDaemonResponse  `cbor:"registerDaemonResponse,omitempty"`
	AttachResponse          *StatusResponse          `cbor:"attachResponse,omitempty"`
	RemoteAttachResponse    *StatusResponse          `cbor:"remoteAttachResponse,omitempty"`
	DetachResponse          *StatusResponse          `cbor:"detachResponse,omitempty"`
	ImportResponse          *ImportResponse          `cbor:"importResponse,omitempty"`
	DeleteResponse          *StatusResponse          `cbor:"deleteResponse,omitempty"`
	ConnectionsListResponse *ConnectionsListResponse `cbor:"connectionsListResponse,omitempty"`
	ConnectionsList         *ConnectionsList         `cbor:"connectionsList,omitempty"`
}

type RegisterDaemonRequest struct {
	Token    string `cbor:"token"`
	Identity string `cbor:"identity"`
	Key      string `cbor:"key"`
}

type RegisterDaemonResponse struct {
	Result Result `cbor:"response"`
	Email  string `cbor:"email,omitempty"`
	Name   string `cbor:"name,omitempty"`
}

// AttachRequest is shared by ATTACH_REQUEST and REMOTE_ATTACH_REQUEST; the
// remote form additionally migrates existing attachments.
type AttachRequest struct {
	Path            string `cbor:"path"`
	DaemonName      string `cbor:"daemonName"`
	Token           string `cbor:"token"`
	Server          bool   `cbor:"server"`
	AddressOverride string `cbor:"addressOverride,omitempty"`
	PortOverride    string `cbor:"portOverride,omitempty"`
}

type DetachRequest struct {
	Path string `cbor:"path"`
}

type ImportRequest struct {
	Token string `cbor:"token"`
}

type DeleteRequest struct {
	Path string `cbor:"path"`
}

type ConnectionsListRequest struct{}

// StatusUpdate reports the set of connection names this session currently
// serves. It has no reply.
type StatusUpdate struct {
	Served []string `cbor:"served"`
}

// StatusResponse is the reply body of every request that carries only a
// result code.
type StatusResponse struct {
	Result Result `cbor:"response"`
}

type ImportResponse struct {
	Result  Result           `cbor:"response"`
	Updates *ConnectionsList `cbor:"updates,omitempty"`
}

type ConnectionsListResponse struct {
	Result Result           `cbor:"response"`
	List   *ConnectionsList `cbor:"list,omitempty"`
}

type ConnectionsList struct {
	ServerConnections []ServerConnection `cbor:"serverConnections"`
	ClientConnections []ClientConnection `cbor:"clientConnections"`
}

// ServerConnection describes a connection from the serving daemon's point of
// view. Clients holds the "email?daemonName" references of consuming daemons.
type ServerConnection struct {
	Name           string   `cbor:"name"`
	ConnectAddress string   `cbor:"connectAddress"`
	ConnectPort    string   `cbor:"connectPort"`
	Encrypted      bool     `cbor:"encrypted"`
	Fixed          bool     `cbor:"fixed"`
	Clients        []string `cbor:"clients"`
}

// ClientConnection describes a connection from a consuming daemon's point of
// view. Server is the "email?daemonName" reference of the serving daemon, or
// empty when none is attached.
type ClientConnection struct {
	Name          string `cbor:"name"`
	ListenAddress string `cbor:"listenAddress"`
	ListenPort    string `cbor:"listenPort"`
	Encrypted     bool   `cbor:"encrypted"`
	Fixed         bool   `cbor:"fixed"`
	Server        string `cbor:"server"`
}
