package protocol

// Reply builders. Each handler builds its reply through exactly one of these
// so every branch sends a single, well-formed envelope.

func NewRegisterDaemonResponse(messageID string, result Result, email, name string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeRegisterDaemonResponse,
		MessageID: messageID,
		RegisterDaemonResponse: &RegisterDaemonResponse{
			Result: result,
			Email:  email,
			Name:   name,
		},
	}
}

func NewAttachResponse(messageID string, result Result) *ServerMessage {
	return &ServerMessage{
		Type:           TypeAttachResponse,
		MessageID:      messageID,
		AttachResponse: &StatusResponse{Result: result},
	}
}

func NewRemoteAttachResponse(messageID string, result Result) *ServerMessage {
	return &ServerMessage{
		Type:                 TypeRemoteAttachResponse,
		MessageID:            messageID,
		RemoteAttachResponse: &StatusResponse{Result: result},
	}
}

func NewDetachResponse(messageID string, result Result) *ServerMessage {
	return &ServerMessage{
		Type:           TypeDetachResponse,
		MessageID:      messageID,
		DetachResponse: &StatusResponse{Result: result},
	}
}

func NewImportResponse(messageID string, result Result, updates *ConnectionsList) *ServerMessage {
	return &ServerMessage{
		Type:           TypeImportResponse,
		MessageID:      messageID,
		ImportResponse: &ImportResponse{Result: result, Updates: updates},
	}
}

func NewDeleteResponse(messageID string, result Result) *ServerMessage {
	return &ServerMessage{
		Type:           TypeDeleteResponse,
		MessageID:      messageID,
		DeleteResponse: &StatusResponse{Result: result},
	}
}

func NewConnectionsListResponse(messageID string, result Result, list *ConnectionsList) *ServerMessage {
	return &ServerMessage{
		Type:                    TypeConnectionsListResponse,
		MessageID:               messageID,
		ConnectionsListResponse: &ConnectionsListResponse{Result: result, List: list},
	}
}

// NewConnectionsListPush builds the out-of-band topology notification.
func NewConnectionsListPush(list *ConnectionsList) *ServerMessage {
	return &ServerMessage{
		Type:            TypeConnectionsList,
		ConnectionsList: list,
	}
}
