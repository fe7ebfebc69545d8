package protocol

// Client→daemon message tags.
const (
	ClientMove uint8 = iota + 1
	ClientFlip
	ClientPut
	ClientMap
	ClientTele
)

// Daemon→client message tags.
const (
	ServerTile uint8 = iota + 0x80
	ServerMove
	ServerPut
	ServerCursor
	ServerMap
)

// CursorNone is the reserved coordinate meaning "no cursor on that side
// of the transition".
const CursorNone uint8 = 0xFF

// clientPayloadSize is the size of the largest client frame payload: Move's
// {dx, dy}. Put's {color, cell} is the same size; Tele's {port} and Flip/Map's
// empty payloads fit within it. There is no framing length: every client
// frame is read as this one fixed size regardless of tag.
const clientPayloadSize = 2

// ClientFrame is a fixed-size client→daemon frame as read off the wire.
type ClientFrame struct {
	Tag     uint8
	Payload [clientPayloadSize]byte
}

func (f ClientFrame) MoveDelta() (dx, dy int8) {
	return int8(f.Payload[0]), int8(f.Payload[1])
}

func (f ClientFrame) PutArgs() (color, cell uint8) {
	return f.Payload[0], f.Payload[1]
}

func (f ClientFrame) TelePort() uint8 {
	return f.Payload[0]
}

func MoveFrame(dx, dy int8) ClientFrame {
	return ClientFrame{Tag: ClientMove, Payload: [2]byte{byte(dx), byte(dy)}}
}

func FlipFrame() ClientFrame {
	return ClientFrame{Tag: ClientFlip}
}

func PutFrame(color, cell uint8) ClientFrame {
	return ClientFrame{Tag: ClientPut, Payload: [2]byte{color, cell}}
}

func MapFrame() ClientFrame {
	return ClientFrame{Tag: ClientMap}
}

func TeleFrame(port uint8) ClientFrame {
	return ClientFrame{Tag: ClientTele, Payload: [2]byte{port, 0}}
}

// serverPayloadSize is the size of the largest inline server frame payload:
// Put's {cellX, cellY, color, cell} and Cursor's {oldX, oldY, newX, newY},
// both 4 bytes. Tile and Map carry no inline payload; a bulk transfer of a
// known fixed size follows on the same socket instead.
const serverPayloadSize = 4

// ServerFrame is a fixed-size daemon→client frame as written to the wire.
type ServerFrame struct {
	Tag     uint8
	Payload [serverPayloadSize]byte
}

func TileFrame() ServerFrame {
	return ServerFrame{Tag: ServerTile}
}

func MoveReply(cellX, cellY uint8) ServerFrame {
	return ServerFrame{Tag: ServerMove, Payload: [4]byte{cellX, cellY, 0, 0}}
}

func PutReply(cellX, cellY, color, cell uint8) ServerFrame {
	return ServerFrame{Tag: ServerPut, Payload: [4]byte{cellX, cellY, color, cell}}
}

func CursorReply(oldX, oldY, newX, newY uint8) ServerFrame {
	return ServerFrame{Tag: ServerCursor, Payload: [4]byte{oldX, oldY, newX, newY}}
}

func MapHeaderFrame() ServerFrame {
	return ServerFrame{Tag: ServerMap}
}

// TileMeta is one cell of the map aggregator's metadata window.
type TileMeta struct {
	CreateTime  int64
	ModifyTime  int64
	AccessTime  int64
	ModifyCount uint32
	AccessCount uint32
}

const tileMetaBytes = 8 + 8 + 8 + 4 + 4

// MapWindowSize is the side length of the metadata window centred on the
// requester's tile.
const MapWindowSize = 11

// MapPayload is the bulk payload following a Map header frame.
type MapPayload struct {
	Now  int64
	Min  TileMeta
	Max  TileMeta
	Meta [MapWindowSize][MapWindowSize]TileMeta
}
