// Package stomp builds and parses STOMP 1.2 frames carried in WebSocket messages.
package stomp

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// Frame is a single STOMP frame.
type Frame = frame.Frame

// Commands used by the client.
const (
	CommandConnect     = frame.CONNECT
	CommandConnected   = frame.CONNECTED
	CommandSubscribe   = frame.SUBSCRIBE
	CommandUnsubscribe = frame.UNSUBSCRIBE
	CommandSend        = frame.SEND
	CommandMessage     = frame.MESSAGE
	CommandError       = frame.ERROR
	CommandReceipt     = frame.RECEIPT
	CommandDisconnect  = frame.DISCONNECT
)

// Protocol version negotiated with the broker.
const Version = "1.2"

// ContentTypeJSON is attached to every SEND carrying a JSON body.
const ContentTypeJSON = "application/json"

// HeartBeat is a pair of heart-beat intervals. Zero disables a direction.
type HeartBeat struct {
	Outgoing time.Duration
	Incoming time.Duration
}

// Header renders the heart-beat header value in milliseconds.
func (h HeartBeat) Header() string {
	return strconv.FormatInt(h.Outgoing.Milliseconds(), 10) + "," + strconv.FormatInt(h.Incoming.Milliseconds(), 10)
}

// Negotiate combines the client's heart-beat with the value the broker returned in
// CONNECTED. Each direction uses the larger of the two intervals, or zero when either
// side disabled it.
func Negotiate(client HeartBeat, serverHeader string) (HeartBeat, error) {
	if serverHeader == "" {
		return HeartBeat{}, nil
	}
	sx, sy, err := frame.ParseHeartBeat(serverHeader)
	if err != nil {
		return HeartBeat{}, fmt.Errorf("parsing heart-beat %q: %w", serverHeader, err)
	}

	var hb HeartBeat
	if client.Outgoing > 0 && sy > 0 {
		hb.Outgoing = maxDuration(client.Outgoing, sy)
	}
	if client.Incoming > 0 && sx > 0 {
		hb.Incoming = maxDuration(client.Incoming, sx)
	}
	return hb, nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// Connect builds the CONNECT frame. Extra headers are appended as given.
func Connect(host string, hb HeartBeat, extra map[string]string) *Frame {
	f := frame.New(CommandConnect,
		frame.AcceptVersion, Version,
		frame.Host, host,
		frame.HeartBeat, hb.Header(),
	)
	for k, v := range extra {
		f.Header.Add(k, v)
	}
	return f
}

// Subscribe builds a SUBSCRIBE frame with auto acknowledgement.
func Subscribe(id, destination string) *Frame {
	return frame.New(CommandSubscribe,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
}

// Unsubscribe builds an UNSUBSCRIBE frame.
func Unsubscribe(id string) *Frame {
	return frame.New(CommandUnsubscribe, frame.Id, id)
}

// Send builds a SEND frame.
func Send(destination, contentType string, body []byte) *Frame {
	f := frame.New(CommandSend,
		frame.Destination, destination,
		frame.ContentType, contentType,
	)
	f.Body = body
	return f
}

// Disconnect builds a DISCONNECT frame.
func Disconnect() *Frame {
	return frame.New(CommandDisconnect)
}

// Connected builds the broker's CONNECTED reply.
func Connected(heartBeat string) *Frame {
	return frame.New(CommandConnected,
		frame.Version, Version,
		frame.HeartBeat, heartBeat,
	)
}

// Message builds a MESSAGE frame for a subscription.
func Message(destination, subscriptionID, messageID string, body []byte) *Frame {
	f := frame.New(CommandMessage,
		frame.Destination, destination,
		frame.Subscription, subscriptionID,
		frame.MessageId, messageID,
		frame.ContentType, ContentTypeJSON,
	)
	f.Body = body
	return f
}

// Error builds an ERROR frame.
func Error(message string) *Frame {
	return frame.New(CommandError, frame.Message, message)
}

// ID returns the id header of a SUBSCRIBE or UNSUBSCRIBE frame.
func ID(f *Frame) string {
	return f.Header.Get(frame.Id)
}

// Encode serializes a frame. A nil frame encodes as a heart-beat EOL.
func Encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", commandOf(f), err)
	}
	return buf.Bytes(), nil
}

// Decode parses every frame in a WebSocket message. Heart-beats are skipped, so a
// message that only carries EOLs yields no frames and no error.
func Decode(data []byte) ([]*Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var frames []*Frame
	for {
		f, err := r.Read()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("decoding frame: %w", err)
		}
		if f == nil {
			continue
		}
		frames = append(frames, f)
	}
}

// ErrorMessage extracts a readable message from an ERROR frame.
func ErrorMessage(f *Frame) string {
	if msg := f.Header.Get(frame.Message); msg != "" {
		return msg
	}
	if len(f.Body) > 0 {
		return string(bytes.TrimSpace(f.Body))
	}
	return "broker reported an error"
}

// Destination returns the destination header of a frame.
func Destination(f *Frame) string {
	return f.Header.Get(frame.Destination)
}

// SubscriptionID returns the subscription header of a MESSAGE frame.
func SubscriptionID(f *Frame) string {
	return f.Header.Get(frame.Subscription)
}

// HeartBeatHeader returns the heart-beat header of a CONNECTED frame.
func HeartBeatHeader(f *Frame) string {
	return f.Header.Get(frame.HeartBeat)
}

func commandOf(f *Frame) string {
	if f == nil {
		return "heart-beat"
	}
	return f.Command
}
