package transport

import (
	"github.com/yuewen-li/speech2speech/internal/pipeline"
	"github.com/yuewen-li/speech2speech/internal/protocol"
)

// Conn is the media connection a session reads from and writes to. The
// WebRTC peer implements it; session tests substitute fakes.
type Conn interface {
	// Frames delivers decoded mono PCM frames at the pipeline sample rate.
	// The channel closes when the peer disconnects.
	Frames() <-chan []int16

	// SendTranscript delivers a transcript event over the structured event
	// channel.
	SendTranscript(ev *protocol.TranscriptEvent) error

	// SendAudioFrame delivers one frame of synthesized audio on the
	// outbound media track.
	SendAudioFrame(frame *pipeline.OutboundFrame) error

	// Done is closed when the underlying connection fails or closes.
	Done() <-chan struct{}

	Close() error
}
