package internal

import (
	"bytes"
	"encoding/json"
	"time"
)

// Every control message on the wire is one Envelope: a kind, a free-form
// JSON payload and the server timestamp at which it was produced.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// Client-to-server message kinds.
const (
	KindRegister      = "REGISTER"
	KindLogin         = "LOGIN"
	KindLogout        = "LOGOUT"
	KindListRooms     = "LIST_ROOMS"
	KindJoinRoom      = "JOIN_ROOM"
	KindSendMessage   = "SEND_MESSAGE"
	KindListRoomFiles = "LIST_ROOM_FILES"
	KindUploadFile    = "UPLOAD_FILE"
	KindDownloadFile  = "DOWNLOAD_FILE"
	KindP2PRequest    = "P2P_REQUEST"
	KindSyncRoom      = "SYNC_ROOM"
	KindPing          = "PING"
)

// Server-to-client message kinds.
const (
	KindRegisterSuccess = "REGISTER_SUCCESS"
	KindRegisterError   = "REGISTER_ERROR"
	KindLoginSuccess    = "LOGIN_SUCCESS"
	KindLoginError      = "LOGIN_ERROR"
	KindRoomsList       = "ROOMS_LIST"
	KindJoinSuccess     = "JOIN_SUCCESS"
	KindJoinError       = "JOIN_ERROR"
	KindMessage         = "MESSAGE"
	KindUserJoined      = "USER_JOINED"
	KindUserLeft        = "USER_LEFT"
	KindRoomFilesList   = "ROOM_FILES_LIST"
	KindUploadReady     = "UPLOAD_READY"
	KindUploadComplete  = "UPLOAD_COMPLETE"
	KindDownloadReady   = "DOWNLOAD_READY"
	KindFileShared      = "FILE_SHARED"
	KindP2PConnect      = "P2P_CONNECT"
	KindP2PError        = "P2P_ERROR"
	KindSyncPreparing   = "SYNC_PREPARING"
	KindSyncReady       = "SYNC_READY"
	KindSyncData        = "SYNC_DATA"
	KindSyncComplete    = "SYNC_COMPLETE"
	KindPong            = "PONG"
	KindError           = "ERROR"
)

// Stable error codes carried inside error payloads.
const (
	CodeInvalidData        = "INVALID_DATA"
	CodeUsernameExists     = "USERNAME_EXISTS"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidSession     = "INVALID_SESSION"
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeNotInRoom          = "NOT_IN_ROOM"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeFileNotFound       = "FILE_NOT_FOUND"
	CodeTransferIncomplete = "TRANSFER_INCOMPLETE"
	CodeStorageError       = "STORAGE_ERROR"
	CodePeerNotFound       = "PEER_NOT_FOUND"
	CodeSelfNotFound       = "SELF_NOT_FOUND"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeRateLimited        = "RATE_LIMITED"
)

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionRequest struct {
	SessionToken string `json:"session_token"`
}

type joinRoomRequest struct {
	SessionToken string `json:"session_token"`
	RoomID       string `json:"room_id"`
}

type sendMessageRequest struct {
	SessionToken string `json:"session_token"`
	Message      string `json:"message"`
}

type uploadRequest struct {
	SessionToken string `json:"session_token"`
	Filename     string `json:"filename"`
	SizeBytes    int64  `json:"size_bytes"`
}

type downloadRequest struct {
	SessionToken string `json:"session_token"`
	Filename     string `json:"filename"`
}

type p2pRequest struct {
	SessionToken   string `json:"session_token"`
	TargetUsername string `json:"target_username"`
}

// newEnvelope stamps an outbound envelope with the current server time.
func newEnvelope(kind string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      kind,
		Payload:   raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// decodePayload unmarshals a request payload, rejecting unknown fields so a
// misspelled or extraneous key fails loudly instead of silently zeroing.
func decodePayload(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
